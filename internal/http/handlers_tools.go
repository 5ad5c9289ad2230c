package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/tools"
)

const maxArgsBytes = 1 << 20

func (s *Service) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Catalog()})
}

// handleToolCall serves POST /api/tools/{name}; the body is the argument
// object.
func (s *Service) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tools/"), "/")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArgsBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, tools.Failure(core.Invalid("read arguments: %s", err.Error())))
		return
	}
	s.invoke(w, r, name, body)
}
