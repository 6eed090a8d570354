package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/devhost/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready  bool `json:"ready"`
	Routes int  `json:"routes"`
}

// Readyz reports 503 until the route set has been built from the store.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := d.Ready == nil || d.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readyzResponse{Ready: ready, Routes: d.Routes.Count()})
	}
}
