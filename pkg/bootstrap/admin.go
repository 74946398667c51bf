package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
)

// maxProposalBytes bounds a single admin proposal body.
const maxProposalBytes = 1 << 20

// ProposeResponse is the admin answer to a successful proposal.
type ProposeResponse struct {
	Index c.LogIndex `json:"index"`
}

// registerAdmin mounts the management JSON endpoints used by the CLI
// next to the metrics handler.
func (n *Node) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, n.Engine.Status())
	})

	mux.HandleFunc("/propose", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxProposalBytes+1))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(payload) == 0 || len(payload) > maxProposalBytes {
			http.Error(w, "payload must be between 1 byte and 1MiB", http.StatusBadRequest)
			return
		}
		ctx, cancel := contextWithTimeout(r, 5*time.Second)
		defer cancel()
		idx, err := n.Engine.Propose(ctx, payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, ProposeResponse{Index: idx})
	})

	mux.HandleFunc("/metricsnap", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, n.Engine.Metrics())
	})

	mux.HandleFunc("/recovery/enter", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := contextWithTimeout(r, 10*time.Second)
		defer cancel()
		if err := n.Engine.EnterRecovery(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": n.Engine.Mode().String()})
	})

	mux.HandleFunc("/recovery/exit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := contextWithTimeout(r, 10*time.Second)
		defer cancel()
		if err := n.Engine.ExitRecovery(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": n.Engine.Mode().String()})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
