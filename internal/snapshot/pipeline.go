// Package snapshot walks the master server list of every tracked game and persists
// point-in-time snapshots of populated servers.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/alliedintel/internal/models"
	"github.com/woozymasta/alliedintel/internal/networks"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Run while another sweep is in progress.
var ErrAlreadyRunning = errors.New("snapshot run already in progress")

// Upstream is the part of the master server client the pipeline needs.
type Upstream interface {
	ServerList(ctx context.Context, q networks.ServerListQuery) (*networks.ServerList, error)
	ServerDetails(ctx context.Context, game models.Game, ip string, port int) (*networks.ServerDetails, error)
}

// Store persists identities and snapshots.
type Store interface {
	EnsureServer(ctx context.Context, s models.Server) (models.Server, error)
	RecordSnapshot(ctx context.Context, s models.Server, snap *models.Snapshot) (models.Server, error)
}

// CountryResolver maps an IP to an ISO country code, or "" when unknown.
type CountryResolver interface {
	CountryCode(ip string) string
}

// Options tune a Pipeline. Zero values select defaults.
type Options struct {
	Countries CountryResolver
	Clock     func() time.Time
	Games     []models.Game
	PageSize  int
	Workers   int
}

// Status is the externally visible state of the pipeline.
type Status struct {
	Last  *models.RunSummary `json:"last_run,omitempty"`
	State models.RunState    `json:"state"`
}

// Pipeline performs snapshot sweeps. Only one sweep runs at a time.
type Pipeline struct {
	upstream  Upstream
	store     Store
	countries CountryResolver
	now       func() time.Time
	last      *models.RunSummary
	games     []models.Game
	pageSize  int
	workers   int
	mu        sync.Mutex
	running   atomic.Bool
}

// New creates a pipeline sweeping upstream into store.
func New(upstream Upstream, store Store, opts Options) *Pipeline {
	p := &Pipeline{
		upstream:  upstream,
		store:     store,
		countries: opts.Countries,
		now:       opts.Clock,
		games:     opts.Games,
		pageSize:  opts.PageSize,
		workers:   opts.Workers,
	}

	if p.now == nil {
		p.now = time.Now
	}
	if len(p.games) == 0 {
		p.games = models.Games
	}
	if p.pageSize <= 0 || p.pageSize > networks.MaxResults {
		p.pageSize = networks.MaxResults
	}
	if p.workers <= 0 {
		p.workers = 4
	}

	return p
}

// Status returns the current state and the summary of the last finished run.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{State: models.RunIdle}
	if p.last != nil {
		last := *p.last
		st.Last = &last
		st.State = last.State
	}
	if p.running.Load() {
		st.State = models.RunRunning
	}

	return st
}

// Running reports whether a sweep is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// run accumulates counters of one sweep; workers update it concurrently.
type run struct {
	logger      zerolog.Logger
	listed      atomic.Int64
	snapshotted atomic.Int64
	players     atomic.Int64
	errors      atomic.Int64
}

// Run performs one full sweep over every configured game.
// Per-server and per-game failures are counted in the summary, not returned.
func (p *Pipeline) Run(ctx context.Context) (models.RunSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return models.RunSummary{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	summary := models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: p.now().UTC(),
		State:     models.RunRunning,
	}

	r := &run{logger: log.With().Str("run_id", summary.RunID).Logger()}
	r.logger.Info().Int("games", len(p.games)).Int("workers", p.workers).Msg("Snapshot run started")

	for _, game := range p.games {
		if err := ctx.Err(); err != nil {
			r.errors.Add(1)
			r.logger.Warn().Err(err).Msg("Snapshot run interrupted")
			break
		}
		p.sweepGame(ctx, r, game)
	}

	summary.ServersListed = int(r.listed.Load())
	summary.ServersSnapshotted = int(r.snapshotted.Load())
	summary.PlayersRecorded = int(r.players.Load())
	summary.Errors = int(r.errors.Load())
	summary.DurationMs = p.now().Sub(summary.StartedAt).Milliseconds()

	summary.State = models.RunCompleted
	if summary.Errors > 0 {
		summary.State = models.RunCompletedWithErrors
	}

	r.logger.Info().
		Int("servers_listed", summary.ServersListed).
		Int("servers_snapshotted", summary.ServersSnapshotted).
		Int("players_recorded", summary.PlayersRecorded).
		Int("errors", summary.Errors).
		Int64("duration_ms", summary.DurationMs).
		Str("state", string(summary.State)).
		Msg("Snapshot run finished")

	p.mu.Lock()
	last := summary
	p.last = &last
	p.mu.Unlock()

	return summary, nil
}

func (p *Pipeline) sweepGame(ctx context.Context, r *run, game models.Game) {
	logger := r.logger.With().Str("game", string(game)).Logger()

	list, err := p.upstream.ServerList(ctx, networks.ServerListQuery{Game: game, Results: p.pageSize})
	if err != nil {
		r.errors.Add(1)
		logger.Error().Err(err).Msg("Failed to fetch server list, skipping game")
		return
	}

	r.listed.Add(int64(len(list.Servers)))
	logger.Debug().Int("servers", len(list.Servers)).Int("players", list.Metadata.Players).Msg("Server list fetched")

	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	for _, info := range list.Servers {
		g.Go(func() error {
			p.processServer(ctx, r, game, info)
			return nil
		})
	}

	_ = g.Wait()
}

// processServer never fails the sweep: errors and panics are counted and logged.
func (p *Pipeline) processServer(ctx context.Context, r *run, game models.Game, info networks.ServerInfo) {
	logger := r.logger.With().
		Str("game", string(game)).
		Str("ip", info.IP).
		Int("port", info.HostPort).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			r.errors.Add(1)
			logger.Error().Interface("panic", rec).Msg("Recovered from panic while processing server")
		}
	}()

	if err := p.snapshotServer(ctx, r, game, info); err != nil {
		r.errors.Add(1)
		logger.Warn().Err(err).Msg("Failed to process server")
	}
}

func (p *Pipeline) snapshotServer(ctx context.Context, r *run, game models.Game, info networks.ServerInfo) error {
	identity := p.identityFor(game, info)

	srv, err := p.store.EnsureServer(ctx, identity)
	if err != nil {
		return fmt.Errorf("ensure identity: %w", err)
	}

	if info.NumPlayers <= 0 {
		return nil
	}

	details, err := p.upstream.ServerDetails(ctx, game, info.IP, info.HostPort)
	if err != nil {
		return fmt.Errorf("fetch details: %w", err)
	}

	snap := buildSnapshot(p.now().UTC(), details)
	if _, err := p.store.RecordSnapshot(ctx, srv, snap); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	r.snapshotted.Add(1)
	r.players.Add(int64(len(snap.Players)))

	return nil
}

func (p *Pipeline) identityFor(game models.Game, info networks.ServerInfo) models.Server {
	country := info.Country
	if country == "" && p.countries != nil {
		country = p.countries.CountryCode(info.IP)
	}

	return models.Server{
		ExternalID: info.ID,
		IP:         info.IP,
		Port:       info.HostPort,
		Hostname:   info.Hostname,
		Game:       game,
		Country:    country,
		FirstSeen:  p.now().UTC(),
	}
}

func buildSnapshot(at time.Time, d *networks.ServerDetails) *models.Snapshot {
	snap := &models.Snapshot{
		CapturedAt:  at,
		MapName:     d.MapName,
		GameType:    d.GameType,
		MapURL:      d.MapURL,
		GameVersion: d.GameVersion,
		Password:    d.Password,
		TimeLimit:   d.TimeLimit,
		FragLimit:   d.FragLimit,
		DtUpdated:   d.DtUpdated,
		NumPlayers:  max(d.NumPlayers, 0),
		MaxPlayers:  max(d.MaxPlayers, 0),
		Players:     make([]models.Player, 0, len(d.Players)),
	}

	for _, pl := range d.Players {
		snap.Players = append(snap.Players, models.Player{
			CapturedAt: at,
			Name:       pl.Name,
			Frags:      pl.Frags,
			Ping:       pl.Ping,
		})
	}

	return snap
}
