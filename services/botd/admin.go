package botd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// AdminServer exposes HTTP endpoints for operator controls.
type AdminServer struct {
	daemon  *Daemon
	router  chi.Router
	timeout time.Duration
}

// NewAdminServer constructs a server wrapping the provided daemon. runTimeout
// bounds runs triggered through POST /run.
func NewAdminServer(daemon *Daemon, auth *Authenticator, runTimeout time.Duration) *AdminServer {
	r := chi.NewRouter()
	server := &AdminServer{daemon: daemon, router: r, timeout: runTimeout}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware)
		pr.Get("/status", server.handleStatus)
		pr.Post("/pause", server.handlePause)
		pr.Post("/resume", server.handleResume)
		pr.Post("/run", server.handleRun)
	})
	return server
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with request tracing.
func (s *AdminServer) Handler() http.Handler {
	return otelhttp.NewHandler(s, "botd.admin")
}

func (s *AdminServer) handlePause(w http.ResponseWriter, r *http.Request) {
	s.daemon.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.daemon.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

type runResponse struct {
	Chain     string         `json:"chain"`
	RunID     string         `json:"run_id"`
	Window    string         `json:"window"`
	Head      uint64         `json:"head"`
	Requests  int            `json:"requests"`
	Outcomes  map[string]int `json:"outcomes"`
	Included  int            `json:"owners_included"`
	Dropped   []string       `json:"owners_dropped,omitempty"`
	GasLimit  uint64         `json:"gas_limit,omitempty"`
	Submitted bool           `json:"submitted"`
	TxHash    string         `json:"tx_hash,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

func (s *AdminServer) handleRun(w http.ResponseWriter, r *http.Request) {
	chain := strings.TrimSpace(r.URL.Query().Get("chain"))
	if chain == "" {
		chains := s.daemon.Chains()
		if len(chains) != 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chain query parameter required"})
			return
		}
		chain = chains[0]
	}
	// Runs outlive the request.
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.daemon.Run(ctx, chain)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownChain):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, ErrPaused), errors.Is(err, ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), RunID: report.RunID})
		return
	}
	resp := runResponse{
		Chain:     report.Chain,
		RunID:     report.RunID,
		Window:    report.Window.String(),
		Head:      report.Head,
		Requests:  report.Requests,
		Outcomes:  make(map[string]int, len(report.Outcomes)),
		Included:  report.Batch.Included,
		GasLimit:  report.Batch.GasLimit,
		Submitted: report.Batch.Submitted,
	}
	for outcome, n := range report.Outcomes {
		resp.Outcomes[string(outcome)] = n
	}
	for _, owner := range report.Batch.Dropped() {
		resp.Dropped = append(resp.Dropped, owner.Hex())
	}
	if report.Batch.Submitted {
		resp.TxHash = report.Batch.TxHash.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
