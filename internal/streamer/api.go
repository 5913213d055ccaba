package streamer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"signal-systemv1/internal/model"
)

// NewRouter exposes the service over HTTP:
//
//	GET /healthz                          dependency health
//	GET /metrics                          Prometheus metrics
//	GET /symbols                          tracked symbols
//	GET /symbols/{symbol}/latest          last record
//	GET /symbols/{symbol}/peek?close=X    record a next close of X would produce
//	GET /symbols/{symbol}/records?after=T stored records newer than T (RFC3339)
//
// health and metrics may be nil.
func NewRouter(svc *Service, health, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	if health != nil {
		r.Method(http.MethodGet, "/healthz", health)
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/symbols", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string][]string{"symbols": svc.Symbols()})
		})
		r.Get("/{symbol}/latest", svc.handleLatest)
		r.Get("/{symbol}/peek", svc.handlePeek)
		r.Get("/{symbol}/records", svc.handleRecords)
	})
	return r
}

func (svc *Service) handleLatest(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	rec, ok, err := svc.Latest(r.Context(), symbol)
	if err != nil {
		svc.writeErr(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no record yet for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (svc *Service) handlePeek(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	raw := r.URL.Query().Get("close")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing close parameter")
		return
	}
	c, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "close: "+err.Error())
		return
	}
	rec, err := svc.Peek(r.Context(), symbol, c)
	if err != nil {
		svc.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (svc *Service) handleRecords(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if svc.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "no record store configured")
		return
	}
	if !svc.tracks(symbol) {
		svc.writeErr(w, r, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol))
		return
	}
	var after time.Time
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after: "+err.Error())
			return
		}
		after = t
	}
	recs, err := svc.deps.History.ReadRecords(r.Context(), symbol, after)
	if err != nil {
		svc.writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "records": recs})
}

func (svc *Service) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownSymbol):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotRunning), errors.Is(err, errWorkerStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		svc.log.Error("api request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
