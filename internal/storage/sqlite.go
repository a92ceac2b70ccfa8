// Package storage handles database connections, schema migrations, and snapshot persistence using SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/woozymasta/alliedintel/assets"
	"github.com/woozymasta/alliedintel/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// PersistenceError wraps any failure of the database layer.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &PersistenceError{Op: op, Err: err}
}

// Repository manages the SQLite database connection.
type Repository struct {
	db  *sql.DB
	now func() time.Time

	// writeMu serializes write transactions; SQLite has a single writer and
	// concurrent BEGINs from pipeline workers would otherwise race for the lock.
	writeMu sync.Mutex
}

// New opens the database at dbPath, sets connection pool parameters, and runs migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("ping", err)
	}

	if err := runMigrations(ctx, db, assets.Migrations()); err != nil {
		_ = db.Close()
		return nil, wrapErr("migrate", err)
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const serverColumns = `id, external_id, ip, hostport, hostname, gamename, country, first_seen`

// EnsureServer returns the stored identity for (IP, Port, Hostname), creating it
// from s when absent. Existing rows are never updated.
func (r *Repository) EnsureServer(ctx context.Context, s models.Server) (models.Server, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	srv, err := r.ensureServer(ctx, r.db, s)
	return srv, wrapErr("ensure server", err)
}

func (r *Repository) ensureServer(ctx context.Context, q querier, s models.Server) (models.Server, error) {
	firstSeen := s.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = r.now()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO servers (external_id, ip, hostport, hostname, gamename, country, first_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip, hostport, hostname) DO NOTHING`,
		s.ExternalID, s.IP, s.Port, s.Hostname, string(s.Game), nullString(s.Country), firstSeen.UnixMilli(),
	)
	if err != nil {
		return models.Server{}, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE ip = ? AND hostport = ? AND hostname = ?`,
		s.IP, s.Port, s.Hostname,
	)

	return scanServer(row)
}

// RecordSnapshot stores snap and its players for server in one transaction,
// creating the server identity first if needed. On success snap.ID and
// snap.ServerID are set; on failure nothing is persisted.
func (r *Repository) RecordSnapshot(ctx context.Context, server models.Server, snap *models.Snapshot) (models.Server, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	srv, err := r.recordSnapshot(ctx, server, snap)
	return srv, wrapErr("record snapshot", err)
}

func (r *Repository) recordSnapshot(ctx context.Context, server models.Server, snap *models.Snapshot) (models.Server, error) {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Server{}, err
	}
	defer func() { _ = tx.Rollback() }()

	srv, err := r.ensureServer(ctx, tx, server)
	if err != nil {
		return models.Server{}, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO server_snapshots (
			server_id, snapshot_time, gametype, mapname, mapurl, gamever,
			num_players, max_players, password, timelimit, fraglimit, dt_updated
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, snap.CapturedAt.UnixMilli(),
		nullString(snap.GameType), nullString(snap.MapName), nullString(snap.MapURL), nullString(snap.GameVersion),
		snap.NumPlayers, snap.MaxPlayers,
		nullString(snap.Password), nullString(snap.TimeLimit), nullString(snap.FragLimit), snap.DtUpdated,
	)
	if err != nil {
		return models.Server{}, err
	}

	snapshotID, err := res.LastInsertId()
	if err != nil {
		return models.Server{}, err
	}

	if len(snap.Players) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO players (server_snapshot_id, player_name, frags, ping, snapshot_time)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return models.Server{}, err
		}
		defer func() { _ = stmt.Close() }()

		for i := range snap.Players {
			p := &snap.Players[i]
			if p.CapturedAt.IsZero() {
				p.CapturedAt = snap.CapturedAt
			}
			if _, err := stmt.ExecContext(ctx, snapshotID, p.Name, p.Frags, p.Ping, p.CapturedAt.UnixMilli()); err != nil {
				return models.Server{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Server{}, err
	}

	snap.ID = snapshotID
	snap.ServerID = srv.ID

	return srv, nil
}

// FindServer retrieves the identity with the exact (ip, port, hostname) key.
// It returns nil, nil when there is none.
func (r *Repository) FindServer(ctx context.Context, ip string, port int, hostname string) (*models.Server, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE ip = ? AND hostport = ? AND hostname = ?`,
		ip, port, hostname,
	)

	return findOne("find server", row)
}

// FindServerByAddr retrieves the most recently created identity at ip:port.
// Hostnames change over a server's life, so several identities may share an address.
func (r *Repository) FindServerByAddr(ctx context.Context, ip string, port int) (*models.Server, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE ip = ? AND hostport = ? ORDER BY id DESC LIMIT 1`,
		ip, port,
	)

	return findOne("find server by addr", row)
}

func findOne(op string, row *sql.Row) (*models.Server, error) {
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}

	return &srv, nil
}

const snapshotColumns = `id, server_id, snapshot_time, gametype, mapname, mapurl, gamever,
	num_players, max_players, password, timelimit, fraglimit, dt_updated`

// SnapshotsBetween returns the snapshots of serverID captured in [start, end),
// oldest first. Players are not loaded.
func (r *Repository) SnapshotsBetween(ctx context.Context, serverID int64, start, end time.Time) ([]models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM server_snapshots
		WHERE server_id = ? AND snapshot_time >= ? AND snapshot_time < ?
		ORDER BY snapshot_time ASC, id ASC`,
		serverID, start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, wrapErr("snapshots between", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := []models.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, wrapErr("snapshots between", err)
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, wrapErr("snapshots between", rows.Err())
}

// LatestSnapshot returns the newest snapshot of serverID captured at or after since,
// with its players. It returns nil, nil when there is none.
func (r *Repository) LatestSnapshot(ctx context.Context, serverID int64, since time.Time) (*models.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM server_snapshots
		WHERE server_id = ? AND snapshot_time >= ?
		ORDER BY snapshot_time DESC, id DESC
		LIMIT 1`,
		serverID, since.UnixMilli(),
	)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("latest snapshot", err)
	}

	players, err := r.players(ctx, snap.ID)
	if err != nil {
		return nil, wrapErr("latest snapshot players", err)
	}
	snap.Players = players

	return &snap, nil
}

func (r *Repository) players(ctx context.Context, snapshotID int64) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_name, frags, ping, snapshot_time
		FROM players
		WHERE server_snapshot_id = ?
		ORDER BY id ASC`,
		snapshotID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	players := []models.Player{}
	for rows.Next() {
		var (
			p  models.Player
			ts int64
		)
		if err := rows.Scan(&p.Name, &p.Frags, &p.Ping, &ts); err != nil {
			return nil, err
		}
		p.CapturedAt = fromMillis(ts)
		players = append(players, p)
	}

	return players, rows.Err()
}

// MostPlayedMaps counts snapshots per map captured at or after since, most frequent
// first. An empty game counts every game.
func (r *Repository) MostPlayedMaps(ctx context.Context, since time.Time, game models.Game, limit int) ([]models.MapFrequency, error) {
	query := `
		SELECT ss.mapname, COUNT(*) AS cnt
		FROM server_snapshots ss
		JOIN servers s ON s.id = ss.server_id
		WHERE ss.snapshot_time >= ? AND ss.mapname IS NOT NULL AND ss.mapname != ''`
	args := []any{since.UnixMilli()}

	if game != "" {
		query += ` AND s.gamename = ?`
		args = append(args, string(game))
	}

	query += ` GROUP BY ss.mapname ORDER BY cnt DESC, ss.mapname ASC LIMIT ?`
	if limit < 1 {
		limit = 1
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("most played maps", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MapFrequency
	for rows.Next() {
		var f models.MapFrequency
		if err := rows.Scan(&f.MapName, &f.Count); err != nil {
			return nil, wrapErr("most played maps", err)
		}
		out = append(out, f)
	}

	return out, wrapErr("most played maps", rows.Err())
}

// PruneSnapshots deletes snapshots captured before the cutoff together with their players.
func (r *Repository) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM server_snapshots WHERE snapshot_time < ?`, before.UnixMilli())
	if err != nil {
		return 0, wrapErr("prune snapshots", err)
	}

	n, err := res.RowsAffected()
	return n, wrapErr("prune snapshots", err)
}

// Counts holds table sizes.
type Counts struct {
	Servers   int64 `json:"servers"`
	Snapshots int64 `json:"snapshots"`
	Players   int64 `json:"players"`
}

// Counts returns the number of stored servers, snapshots and player rows.
func (r *Repository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM servers),
			(SELECT COUNT(*) FROM server_snapshots),
			(SELECT COUNT(*) FROM players)`,
	).Scan(&c.Servers, &c.Snapshots, &c.Players)

	return c, wrapErr("counts", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (models.Server, error) {
	var (
		s         models.Server
		game      string
		country   sql.NullString
		firstSeen int64
	)

	if err := row.Scan(&s.ID, &s.ExternalID, &s.IP, &s.Port, &s.Hostname, &game, &country, &firstSeen); err != nil {
		return models.Server{}, err
	}
	s.Game = models.Game(game)
	s.Country = country.String
	s.FirstSeen = fromMillis(firstSeen)

	return s, nil
}

func scanSnapshot(row scanner) (models.Snapshot, error) {
	var (
		s                                  models.Snapshot
		ts                                 int64
		gameType, mapName, mapURL, gameVer sql.NullString
		password, timeLimit, fragLimit     sql.NullString
		dtUpdated                          sql.NullInt64
	)

	err := row.Scan(
		&s.ID, &s.ServerID, &ts, &gameType, &mapName, &mapURL, &gameVer,
		&s.NumPlayers, &s.MaxPlayers, &password, &timeLimit, &fragLimit, &dtUpdated,
	)
	if err != nil {
		return models.Snapshot{}, err
	}

	s.CapturedAt = fromMillis(ts)
	s.GameType = gameType.String
	s.MapName = mapName.String
	s.MapURL = mapURL.String
	s.GameVersion = gameVer.String
	s.Password = password.String
	s.TimeLimit = timeLimit.String
	s.FragLimit = fragLimit.String
	s.DtUpdated = dtUpdated.Int64

	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
