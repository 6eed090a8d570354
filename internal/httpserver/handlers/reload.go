package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/devhost/internal/httpserver/deps"
	"github.com/MrSnakeDoc/devhost/internal/logger"
)

// Reload asks the reconciler to rebuild routes from the store. A reload
// already queued answers 429.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case d.ReloadTrigger <- struct{}{}:
			d.Logger.Info("route reload triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload triggered"})
		default:
			d.Logger.Warn("route reload already pending",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "reload already pending"})
		}
	}
}
