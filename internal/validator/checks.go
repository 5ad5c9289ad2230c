package validator

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	testMarker   = regexp.MustCompile(`func Test\w*\(|t\.Run\(|\bit\(|\btest\(|\bdescribe\(|def test_\w+`)
	typeDecl     = regexp.MustCompile(`(?m)class\s+\w+|^type\s+\w+\s+struct`)
	exportDecl   = regexp.MustCompile(`(?m)export\s+(const|function|class)|^func\s+(\([^)]*\)\s+)?[A-Z]\w*`)
	optionMarker = regexp.MustCompile(`(?i)option|alternative|approach`)
)

var builtins = map[string]Check{
	"has_comprehensive_tests":    hasComprehensiveTests,
	"documentation_complete":     documentationComplete,
	"proper_error_handling":      properErrorHandling,
	"follows_naming_conventions": followsNamingConventions,
	"size_appropriate":           sizeAppropriate,
	"correct_interface_design":   correctInterfaceDesign,
	"single_responsibility":      singleResponsibility,
	"no_breaking_changes":        noBreakingChanges,
	"uses_right_cores":           usesRightCores,
	"proper_configuration":       properConfiguration,
	"has_integration_tests":      hasIntegrationTests,
	"no_duplicate_logic":         noDuplicateLogic,
	"proper_lifecycle":           properLifecycle,
	"problem_clearly_stated":     problemClearlyStated,
	"options_evaluated":          optionsEvaluated,
	"tradeoffs_documented":       tradeoffsDocumented,
	"recommendation_justified":   recommendationJustified,
	"impacts_identified":         impactsIdentified,
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasComprehensiveTests(a Artifacts) (bool, string) {
	n := len(testMarker.FindAllString(a.Tests, -1))
	if len(a.Tests) > 50 && n >= 3 {
		return true, fmt.Sprintf("%d test cases found", n)
	}
	return false, fmt.Sprintf("Insufficient tests (%d found, need 3+)", n)
}

func documentationComplete(a Artifacts) (bool, string) {
	docComment := (strings.Contains(a.Code, "/**") && strings.Contains(a.Code, "*/")) ||
		strings.HasPrefix(a.Code, "// ") || strings.Contains(a.Code, "\n// ")
	if docComment || len(a.Documentation) > 20 {
		return true, "Documentation present"
	}
	return false, "Missing doc comments or documentation"
}

func properErrorHandling(a Artifacts) (bool, string) {
	if (strings.Contains(a.Code, "try") && strings.Contains(a.Code, "catch")) ||
		containsAny(a.Code, "throw", "if err != nil", "errors.New", "fmt.Errorf") {
		return true, "Error handling patterns found"
	}
	return false, "No error handling found"
}

func followsNamingConventions(a Artifacts) (bool, string) {
	if a.Code == "" || (strings.Contains(a.Code, "metadata") && strings.Contains(a.Code, "name:")) ||
		containsAny(a.Code, "'core-", `"core-`) {
		return true, "Naming conventions followed"
	}
	return false, "Missing core- prefix or metadata"
}

func sizeAppropriate(a Artifacts) (bool, string) {
	lines := strings.Count(a.Code, "\n") + 1
	if lines < 300 {
		return true, fmt.Sprintf("%d lines (under 300)", lines)
	}
	return false, fmt.Sprintf("%d lines exceeds 300 limit", lines)
}

func correctInterfaceDesign(a Artifacts) (bool, string) {
	exported := strings.Contains(a.Code, "export") || exportDecl.MatchString(a.Code)
	if exported && containsAny(a.Code, "interface", "type ", "async") {
		return true, "Proper exports and types found"
	}
	return false, "Missing exports or type definitions"
}

func singleResponsibility(a Artifacts) (bool, string) {
	types := len(typeDecl.FindAllString(a.Code, -1))
	exports := len(exportDecl.FindAllString(a.Code, -1))
	if types <= 2 && exports <= 5 {
		return true, "Single responsibility maintained"
	}
	return false, "Too many types/exports suggests multiple responsibilities"
}

func noBreakingChanges(Artifacts) (bool, string) {
	return true, "Manual verification recommended"
}

func usesRightCores(a Artifacts) (bool, string) {
	if containsAny(a.Code, "CoreLoader", "loadCores") {
		return true, "CoreLoader usage detected"
	}
	return false, "CoreLoader not used"
}

func properConfiguration(a Artifacts) (bool, string) {
	if containsAny(a.Code, "config", "Config") {
		return true, "Configuration handling found"
	}
	return false, "No configuration handling found"
}

func hasIntegrationTests(a Artifacts) (bool, string) {
	if containsAny(a.Tests, "integration", "Integration", "loadCores") || len(a.Tests) > 100 {
		return true, "Integration tests found"
	}
	return false, "No integration tests detected"
}

func noDuplicateLogic(a Artifacts) (bool, string) {
	if !containsAny(a.Code, "fetch(", "axios", "http.Get(", "http.NewRequest") || strings.Contains(a.Code, "core-") {
		return true, "No obvious duplicated logic"
	}
	return false, "May be duplicating core functionality"
}

func properLifecycle(a Artifacts) (bool, string) {
	if !containsAny(a.Code, "init", "setup", "Init", "Setup") {
		return false, "Missing lifecycle methods"
	}
	if containsAny(a.Code, "cleanup", "dispose", "Close", "Cleanup") {
		return true, "Proper init/cleanup"
	}
	return true, "Has init but no cleanup"
}

func problemClearlyStated(a Artifacts) (bool, string) {
	if containsAny(a.Plan, "Problem", "problem") {
		return true, "Problem statement found"
	}
	return false, "Problem statement missing"
}

func optionsEvaluated(a Artifacts) (bool, string) {
	n := len(optionMarker.FindAllString(a.Plan, -1))
	if n >= 2 {
		return true, fmt.Sprintf("%d options mentioned", n)
	}
	return false, "Less than 2 options evaluated"
}

func tradeoffsDocumented(a Artifacts) (bool, string) {
	if containsAny(a.Plan, "pros", "cons", "tradeoff") {
		return true, "Tradeoffs documented"
	}
	return false, "No tradeoffs documentation found"
}

func recommendationJustified(a Artifacts) (bool, string) {
	if containsAny(a.Plan, "recommend", "chosen") {
		return true, "Recommendation provided"
	}
	return false, "No clear recommendation"
}

func impactsIdentified(a Artifacts) (bool, string) {
	if containsAny(a.Plan, "impact", "breaking") {
		return true, "Impacts identified"
	}
	return false, "No impact analysis found"
}
