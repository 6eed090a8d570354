package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
)

type routeKey struct{}

// HandlerOptions tunes backend timeouts.
type HandlerOptions struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

// Handler routes requests by Host header.
type Handler struct {
	reg   *Registry
	log   logger.Logger
	proxy *httputil.ReverseProxy
}

func NewHandler(reg *Registry, log logger.Logger, opts HandlerOptions) *Handler {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = 60 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	h := &Handler{reg: reg, log: log}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			route := pr.In.Context().Value(routeKey{}).(domain.Route)
			pr.SetURL(&url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(route.Port))})
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
		},
		ErrorHandler: h.backendError,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	label := h.reg.Label(r.Host)
	route, ok := h.reg.Lookup(label)
	if !ok {
		metrics.ProxyRequests.WithLabelValues("miss").Inc()
		msg := fmt.Sprintf("no route for %q: no domain %s.%s is configured", r.Host, label, h.reg.TLD())
		if near := Suggest(label, h.reg.Labels(), 3); len(near) > 0 {
			for i := range near {
				near[i] += "." + h.reg.TLD()
			}
			msg += "\ndid you mean: " + strings.Join(near, ", ")
		}
		http.Error(w, msg, http.StatusNotFound)
		return
	}

	if route.Kind == domain.RouteStatic {
		metrics.ProxyRequests.WithLabelValues("static").Inc()
		http.Error(w, fmt.Sprintf("%s is a static site; it is served by the external proxy (caddy), not this router", label), http.StatusServiceUnavailable)
		return
	}

	ctx := context.WithValue(r.Context(), routeKey{}, route)
	metrics.ProxyRequests.WithLabelValues("proxied").Inc()
	h.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) backendError(w http.ResponseWriter, r *http.Request, err error) {
	route, _ := r.Context().Value(routeKey{}).(domain.Route)

	status := http.StatusBadGateway
	outcome := "bad_gateway"
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		status = http.StatusGatewayTimeout
		outcome = "timeout"
	}
	metrics.ProxyRequests.WithLabelValues(outcome).Inc()

	h.log.Warn("backend unavailable",
		logger.String("domain", route.Domain),
		logger.Int("port", route.Port),
		logger.Int("status", status),
		logger.Error(err))
	http.Error(w, fmt.Sprintf("%s: backend on port %d is not responding; is the instance running?", route.Domain, route.Port), status)
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
