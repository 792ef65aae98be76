package main

import (
	"encoding/json"
	"errors"
	"net/http"

	oapitypes "github.com/oapi-codegen/runtime/types"

	"github.com/vectorly/cdpcapture/internal/cdpsession"
	"github.com/vectorly/cdpcapture/lib/logger"
)

type startCaptureRequest struct {
	PageWebSocketURL string `json:"pageWebSocketUrl"`
}

type startCaptureResponse struct {
	CaptureID        oapitypes.UUID `json:"captureId"`
	PageWebSocketURL string         `json:"pageWebSocketUrl"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleStartCapture(mgr *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startCaptureRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}

		captureID, wsURL, err := mgr.Start(r.Context(), req.PageWebSocketURL)
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			logger.FromContext(r.Context()).Error("capture: start failed", "err", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, startCaptureResponse{CaptureID: oapitypes.UUID(captureID), PageWebSocketURL: wsURL})
	}
}

func handleGetSummary(mgr *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := mgr.Summary()
		if errors.Is(err, ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, summaryToJSON(summary))
	}
}

func handleFinalizeCapture(mgr *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := mgr.Finalize(r.Context())
		if errors.Is(err, ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).Warn("capture: finalize returned an error", "err", err)
		}
		writeJSON(w, http.StatusOK, summaryToJSON(summary))
	}
}

// summaryToJSON flattens cdpsession.Summary into the shape openapi.yaml
// declares, rather than exposing the library's internal field names.
func summaryToJSON(s cdpsession.Summary) map[string]any {
	return map[string]any{
		"network": map[string]any{
			"inFlight":  s.Network.InFlight,
			"completed": s.Network.Completed,
			"failed":    s.Network.Failed,
		},
		"storage": map[string]any{
			"cookies": s.Storage.Cookies,
			"local":   s.Storage.Local,
			"session": s.Storage.Session,
		},
		"windowProperties": map[string]any{
			"paths":          s.WindowProperties.Paths,
			"historyEntries": s.WindowProperties.HistoryEntries,
		},
		"interactions": map[string]any{
			"count": s.Interactions.Count,
		},
	}
}
