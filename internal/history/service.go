package history

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/alliedintel/internal/models"
)

// Query errors.
var (
	ErrServerNotFound = errors.New("server not found")
	ErrInvalidRange   = errors.New("start must be before end")
	ErrInvalidBucket  = errors.New("bucket must be a whole number of seconds, at least one")
)

// Store is the read side of the snapshot repository.
type Store interface {
	FindServerByAddr(ctx context.Context, ip string, port int) (*models.Server, error)
	SnapshotsBetween(ctx context.Context, serverID int64, start, end time.Time) ([]models.Snapshot, error)
	LatestSnapshot(ctx context.Context, serverID int64, since time.Time) (*models.Snapshot, error)
	MostPlayedMaps(ctx context.Context, since time.Time, game models.Game, limit int) ([]models.MapFrequency, error)
}

// Resolver maps a caller supplied host to an IP.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// Service runs history and lookup queries.
type Service struct {
	store    Store
	resolver Resolver
	now      func() time.Time
}

// NewService creates a query service. A nil clock uses time.Now.
func NewService(store Store, resolver Resolver, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}

	return &Service{store: store, resolver: resolver, now: clock}
}

// History returns the bucketed player-count series of server over [start, end).
// A zero bucket selects DefaultBucket. No data yields an empty slice.
func (s *Service) History(ctx context.Context, server models.Server, start, end time.Time, bucket time.Duration) ([]models.HistoryPoint, error) {
	bucket, err := checkRange(start, end, bucket)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.store.SnapshotsBetween(ctx, server.ID, start, end)
	if err != nil {
		return nil, err
	}

	points := Aggregate(snapshots, bucket)

	log.Debug().
		Int64("server_id", server.ID).
		Int("snapshots", len(snapshots)).
		Int("points", len(points)).
		Dur("bucket", bucket).
		Msg("History aggregated")

	return points, nil
}

// HistoryByAddress resolves host and returns the history of the newest identity at host:port.
func (s *Service) HistoryByAddress(ctx context.Context, host string, port int, start, end time.Time, bucket time.Duration) ([]models.HistoryPoint, error) {
	if _, err := checkRange(start, end, bucket); err != nil {
		return nil, err
	}

	server, err := s.lookup(ctx, host, port)
	if err != nil {
		return nil, err
	}

	return s.History(ctx, *server, start, end, bucket)
}

func checkRange(start, end time.Time, bucket time.Duration) (time.Duration, error) {
	if bucket == 0 {
		bucket = DefaultBucket
	}
	if bucket < time.Second || bucket%time.Second != 0 {
		return 0, ErrInvalidBucket
	}
	if !start.Before(end) {
		return 0, ErrInvalidRange
	}

	return bucket, nil
}

func (s *Service) lookup(ctx context.Context, host string, port int) (*models.Server, error) {
	ip, err := s.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	server, err := s.store.FindServerByAddr(ctx, ip, port)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, ErrServerNotFound
	}

	return server, nil
}
