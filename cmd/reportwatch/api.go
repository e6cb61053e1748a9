package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/civichub/reportwatch/harvest"
	"github.com/civichub/reportwatch/runlog"
)

// newRouter builds the status API: health, run history, and a harvest
// trigger. It is intentionally unauthenticated — bind it to localhost or
// put it behind the reverse proxy that owns auth.
func newRouter(svc *harvest.Service, log *runlog.Log, locate func() ([]string, error), logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/categories", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Categories())
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		if log == nil {
			writeError(w, http.StatusNotFound, "run history is not configured")
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		history, err := log.History(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if history == nil {
			history = []harvest.RunSummary{}
		}
		writeJSON(w, http.StatusOK, history)
	})

	r.Get("/runs/{runID}", func(w http.ResponseWriter, req *http.Request) {
		if log == nil {
			writeError(w, http.StatusNotFound, "run history is not configured")
			return
		}
		outcomes, err := log.Outcomes(req.Context(), chi.URLParam(req, "runID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(outcomes) == 0 {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		writeJSON(w, http.StatusOK, outcomes)
	})

	r.Post("/harvest", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Locators []string `json:"locators"`
		}
		if req.ContentLength > 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		locators := body.Locators
		if len(locators) == 0 {
			if locate == nil {
				writeError(w, http.StatusBadRequest, "no locators given and discovery is not configured")
				return
			}
			var err error
			locators, err = locate()
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
		}

		report, err := svc.Run(req.Context(), locators)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logger.Info("harvest via API", "run_id", report.RunID, "locators", len(locators))
		writeJSON(w, http.StatusOK, report)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
