package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/httpserver/deps"
	"github.com/MrSnakeDoc/devhost/internal/logger"
)

type routesResponse struct {
	TLD      string         `json:"tld"`
	LastSync string         `json:"last_sync"`
	Routes   []domain.Route `json:"routes"`
}

// Routes lists the proxy's working set.
func Routes(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := "never"
		if t := d.Routes.LastSync(); !t.IsZero() {
			last = t.Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, routesResponse{
			TLD:      d.Routes.TLD(),
			LastSync: last,
			Routes:   d.Routes.Routes(),
		})
	}
}

// Instances lists instances with process state and health.
func Instances(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Instances.ListInstances(r.Context())
		if err != nil {
			d.Logger.Error("failed to list instances", logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type componentStatus struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra summarizes the daemon's moving parts. Without caddy the proxy
// still routes but static sites and TLS are unavailable.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caddy := d.CaddyInstalled != nil && d.CaddyInstalled()
		ready := d.Ready == nil || d.Ready()

		components := map[string]componentStatus{
			"router": {OK: ready, Detail: plural(d.Routes.Count(), "route")},
			"caddy":  {OK: caddy},
		}
		if !caddy {
			components["caddy"] = componentStatus{OK: false, Detail: "not installed: static sites and https disabled"}
		}

		mode := "full"
		switch {
		case !ready:
			mode = "starting"
		case !caddy:
			mode = "degraded"
		}
		writeJSON(w, http.StatusOK, infraResponse{Mode: mode, Components: components})
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
