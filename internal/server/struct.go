package server

import (
	"context"
	"time"

	"github.com/woozymasta/alliedintel/internal/history"
	"github.com/woozymasta/alliedintel/internal/models"
	"github.com/woozymasta/alliedintel/internal/networks"
	"github.com/woozymasta/alliedintel/internal/snapshot"
)

// Snapshotter triggers and reports snapshot runs. *snapshot.Pipeline satisfies it.
type Snapshotter interface {
	Run(ctx context.Context) (models.RunSummary, error)
	Status() snapshot.Status
}

// Server holds the dependencies and configuration required to handle HTTP requests.
type Server struct {
	// upstream is the cached 333networks client used by the live list and detail routes.
	upstream *networks.Client

	// snapshots runs on-demand sweeps and reports the scheduler's last result.
	snapshots Snapshotter

	// history answers history, status and statistics queries from stored snapshots.
	history *history.Service

	// shutdown stops background housekeeping of the middlewares.
	shutdown chan struct{}

	// authToken is the secret token required to access administrative API endpoints
	// (cache clear, snapshot trigger and status).
	authToken string

	// hardLimitCount is the maximum number of requests allowed per IP address
	// within the hardLimitWin duration.
	hardLimitCount int

	// hardLimitWin is the time window duration for the hard rate limiter.
	hardLimitWin time.Duration

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}

// errorResponse is the JSON body of every failed API call.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
