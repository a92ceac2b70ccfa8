// Package models defines the data structures shared by the snapshot pipeline,
// the history queries and the database layer.
package models

import (
	"strings"
	"time"
)

// Game identifies one Medal of Honor family title on the master server.
type Game string

// Tracked games.
const (
	GameMOHAA  Game = "mohaa"
	GameMOHAAS Game = "mohaas"
	GameMOHAAB Game = "mohaab"
)

// Games is the fixed set swept by the snapshot pipeline, in sweep order.
var Games = []Game{GameMOHAA, GameMOHAAS, GameMOHAAB}

// ParseGame matches a game name case-insensitively.
func ParseGame(s string) (Game, bool) {
	g := Game(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case GameMOHAA, GameMOHAAS, GameMOHAAB:
		return g, true
	}

	return "", false
}

// Title returns the full product name of the game.
func (g Game) Title() string {
	switch g {
	case GameMOHAAS:
		return "Medal of Honor Spearhead"
	case GameMOHAAB:
		return "Medal of Honor Breakthrough"
	default:
		return "Medal of Honor Allied Assault"
	}
}

// Server is the durable identity of one physical game server.
// Identity is the (IP, Port, Hostname) triple; ExternalID is informational only
// since the master server may reassign numeric ids.
type Server struct {
	FirstSeen  time.Time `json:"first_seen"`
	IP         string    `json:"ip"`
	Hostname   string    `json:"hostname"`
	Game       Game      `json:"game"`
	Country    string    `json:"country,omitempty"`
	ID         int64     `json:"id"`
	ExternalID int       `json:"external_id"`
	Port       int       `json:"port"`
}

// Snapshot is a point-in-time capture of one server's state and player roster.
type Snapshot struct {
	CapturedAt  time.Time `json:"captured_at"`
	MapName     string    `json:"map_name,omitempty"`
	GameType    string    `json:"game_type,omitempty"`
	MapURL      string    `json:"map_url,omitempty"`
	GameVersion string    `json:"game_version,omitempty"`
	Password    string    `json:"password,omitempty"`
	TimeLimit   string    `json:"time_limit,omitempty"`
	FragLimit   string    `json:"frag_limit,omitempty"`
	Players     []Player  `json:"players,omitempty"`
	ID          int64     `json:"id"`
	ServerID    int64     `json:"server_id"`
	DtUpdated   int64     `json:"dt_updated,omitempty"`
	NumPlayers  int       `json:"num_players"`
	MaxPlayers  int       `json:"max_players"`
}

// Player is one roster entry owned by a Snapshot.
type Player struct {
	CapturedAt time.Time `json:"captured_at"`
	Name       string    `json:"name"`
	Frags      int       `json:"frags"`
	Ping       int       `json:"ping"`
}

// HistoryPoint is one bucket of the player-count series.
type HistoryPoint struct {
	BucketStart time.Time `json:"timestamp"`
	PeakPlayers int       `json:"player_count"`
	MaxCapacity int       `json:"max_players"`
}

// MapFrequency counts how many snapshots were taken on a map.
type MapFrequency struct {
	MapName  string `json:"mapname"`
	FullName string `json:"map_full_name,omitempty"`
	Count    int64  `json:"count"`
}

// RunState is the lifecycle state of the snapshot pipeline.
type RunState string

// Pipeline states.
const (
	RunIdle                RunState = "idle"
	RunRunning             RunState = "running"
	RunCompleted           RunState = "completed"
	RunCompletedWithErrors RunState = "completed_with_errors"
)

// RunSummary reports the outcome of one snapshot sweep.
type RunSummary struct {
	StartedAt          time.Time `json:"started_at"`
	RunID              string    `json:"run_id"`
	State              RunState  `json:"state"`
	DurationMs         int64     `json:"duration_ms"`
	ServersListed      int       `json:"servers_listed"`
	ServersSnapshotted int       `json:"servers_snapshotted"`
	PlayersRecorded    int       `json:"players_recorded"`
	Errors             int       `json:"errors"`
}
