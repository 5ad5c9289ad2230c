package main

import (
	"fmt"

	"github.com/mistakeknot/intercoord/internal/auth"
	"github.com/mistakeknot/intercoord/internal/cli"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/spf13/cobra"
)

// newInitCmd creates the "intercoord init" subcommand.
func newInitCmd() *cobra.Command {
	var (
		agent      string
		operator   bool
		keysFile   string
		policyPath string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Issue an agent key and write the default review policy",
		Long:  "Appends a fresh API key for --agent to the keys file and writes\nthe default review policy unless one already exists (see --force).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cli.InitKeysFile(keysFile, agent, operator)
			if err != nil {
				return fmt.Errorf("init keys: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agent:     %s\n", agent)
			fmt.Fprintf(out, "key:       %s\n", key)
			fmt.Fprintf(out, "keys file: %s\n", keysFile)

			wrote, err := cli.InitPolicyFile(policyPath, force)
			if err != nil {
				return fmt.Errorf("init policy: %w", err)
			}
			if wrote {
				fmt.Fprintf(out, "policy:    %s\n", policyPath)
			} else {
				fmt.Fprintf(out, "policy:    %s (kept existing)\n", policyPath)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&agent, "agent", "", "agent name to issue a key for")
	f.BoolVar(&operator, "operator", false, "allow the agent to run operator tools")
	f.StringVar(&keysFile, "keys-file", auth.ResolveKeysPath(), "API keys file")
	f.StringVar(&policyPath, "policy", envOr("INTERCOORD_POLICY", policy.DefaultPath), "review policy file")
	f.BoolVar(&force, "force", false, "overwrite an existing policy file")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
