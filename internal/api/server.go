package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/decisions"
	"deployguard/internal/engine"
	"deployguard/internal/metrics"
	"deployguard/internal/model"
)

// Control is the controller surface the API needs. Deployment pipelines
// call POST /epochs when a rollout finishes and POST /epochs/{id}/complete
// once the watch interval passes without anomalies.
type Control interface {
	StartEpoch(ctx context.Context, epoch model.Epoch) (model.Epoch, error)
	Complete(epochID string) error
	Status(epochID string) (engine.EpochStatus, bool)
	Epochs() []engine.EpochStatus
}

type Server struct {
	cfg       *config.Manager
	control   Control
	decisions *decisions.Store
	snapshots *metrics.Store
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status   string         `json:"status"`
	Time     string         `json:"time"`
	Version  string         `json:"version"`
	Epochs   int            `json:"epochs"`
	Metrics  metricsStatus  `json:"metrics"`
	Assessor assessorStatus `json:"assessor"`
	API      apiStatus      `json:"api"`
}

type metricsStatus struct {
	Source   string `json:"source"`
	Interval string `json:"interval"`
	Window   string `json:"window"`
}

type assessorStatus struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func Start(ctx context.Context, cfg *config.Manager, control Control, decisionLog *decisions.Store, snapshots *metrics.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		control:   control,
		decisions: decisionLog,
		snapshots: snapshots,
		logger:    logger,
		version:   version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/epochs", server.handleEpochs)
	mux.HandleFunc("/epochs/", server.handleEpoch)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Epochs:  len(s.control.Epochs()),
		Metrics: metricsStatus{
			Source:   cfg.Metrics.Source,
			Interval: cfg.Metrics.Interval.String(),
			Window:   cfg.Metrics.Window.String(),
		},
		Assessor: assessorStatus{Enabled: cfg.Assessor.Enabled, Model: cfg.Assessor.Model},
		API:      apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEpochs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.control.Epochs()
		writeJSON(w, http.StatusOK, map[string]any{
			"epochs": list,
			"count":  len(list),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var epoch model.Epoch
		if err := json.Unmarshal(body, &epoch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		started, err := s.control.StartEpoch(r.Context(), epoch)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"epoch": started})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/epochs/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch rest {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, ok := s.control.Status(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		resp := map[string]any{"epoch": status}
		if snapshot, ok := s.snapshots.Get(id); ok {
			resp["snapshot"] = snapshot
		}
		writeJSON(w, http.StatusOK, resp)
	case "decisions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.writeDecisions(w, r, id)
	case "complete":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.control.Complete(id); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) writeDecisions(w http.ResponseWriter, r *http.Request, epochID string) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Decision
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.decisions.Since(epochID, ts)
	} else {
		list = s.decisions.ForEpoch(epochID)
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": list,
		"count":     len(list),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
