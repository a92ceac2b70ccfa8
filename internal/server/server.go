// Package server implements the HTTP server, middleware, and request handlers for the application.
package server

import (
	"net/http"

	"github.com/woozymasta/alliedintel/internal/config"
	"github.com/woozymasta/alliedintel/internal/history"
	"github.com/woozymasta/alliedintel/internal/networks"
)

// New creates a new Server backed by the upstream client, the snapshot pipeline and the history service.
func New(upstream *networks.Client, snapshots Snapshotter, hist *history.Service, cfg *config.Config) *Server {
	return &Server{
		upstream:       upstream,
		snapshots:      snapshots,
		history:        hist,
		authToken:      cfg.Server.AuthToken,
		trustProxy:     cfg.Server.TrustProxy,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,

		shutdown: make(chan struct{}),
	}
}

// Close stops background middleware routines.
func (s *Server) Close() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()
	admin := func(h http.HandlerFunc) http.Handler { return AdminAuthMiddleware(s.authToken, h) }

	mux.Handle("GET /api/servers/all", http.HandlerFunc(s.handleAllServers))
	mux.Handle("GET /api/servers/{game}", http.HandlerFunc(s.handleServerList))
	mux.Handle("GET /api/servers/{game}/motd", http.HandlerFunc(s.handleMOTD))
	mux.Handle("GET /api/servers/{game}/{ip}/{port}", http.HandlerFunc(s.handleServerDetails))

	mux.Handle("GET /api/history/{host}/{port}", http.HandlerFunc(s.handleHistory))
	mux.Handle("GET /api/status/{host}/{port}", http.HandlerFunc(s.handleStatus))
	mux.Handle("GET /api/v1/statistics/most-played-maps", http.HandlerFunc(s.handleMostPlayedMaps))
	mux.Handle("GET /api/version", http.HandlerFunc(s.handleVersion))

	mux.Handle("POST /api/cache/clear", admin(s.handleCacheClear))
	mux.Handle("POST /api/snapshots/run", admin(s.handleSnapshotRun))
	mux.Handle("GET /api/snapshots/status", admin(s.handleSnapshotStatus))

	return s.LoggingMiddleware(s.RateLimitMiddleware(mux))
}
