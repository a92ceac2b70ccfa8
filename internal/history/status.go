package history

import (
	"context"
	"strings"
	"time"

	"github.com/woozymasta/alliedintel/internal/models"
)

// statusWindow bounds how old the latest snapshot may be.
const statusWindow = 24 * time.Hour

// PlayerStatus is one entry of the current roster.
type PlayerStatus struct {
	Name string `json:"name"`
	Ping int    `json:"ping"`
}

// ServerStatus is the latest known state of a server.
type ServerStatus struct {
	CapturedAt     *time.Time     `json:"captured_at,omitempty"`
	ServerName     string         `json:"server_name"`
	IP             string         `json:"ip"`
	Country        string         `json:"country"`
	Game           models.Game    `json:"game"`
	GameTitle      string         `json:"game_title"`
	GameMode       string         `json:"game_mode"`
	MapName        string         `json:"map_name"`
	Players        []PlayerStatus `json:"players"`
	Port           int            `json:"port"`
	CurrentPlayers int            `json:"current_players"`
	MaxPlayers     int            `json:"max_players"`
	OpenMOHAA      bool           `json:"opm"`
}

// Status returns the latest snapshot of the last 24 hours for host:port.
// A server with no recent snapshot is reported empty on "unknown" map.
func (s *Service) Status(ctx context.Context, host string, port int) (*ServerStatus, error) {
	server, err := s.lookup(ctx, host, port)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestSnapshot(ctx, server.ID, s.now().Add(-statusWindow))
	if err != nil {
		return nil, err
	}

	country := strings.ToUpper(server.Country)
	if country == "" {
		country = "UNK"
	}

	st := &ServerStatus{
		ServerName: server.Hostname,
		IP:         host,
		Port:       port,
		Country:    country,
		Game:       server.Game,
		GameTitle:  server.Game.Title(),
		GameMode:   GameMode(""),
		MapName:    "unknown",
		Players:    []PlayerStatus{},
	}

	if latest == nil {
		return st, nil
	}

	at := latest.CapturedAt
	st.CapturedAt = &at
	st.GameMode = GameMode(latest.GameType)
	st.CurrentPlayers = latest.NumPlayers
	st.MaxPlayers = latest.MaxPlayers
	st.OpenMOHAA = strings.Contains(latest.GameVersion, "+")
	if latest.MapName != "" {
		st.MapName = latest.MapName
	}
	for _, p := range latest.Players {
		st.Players = append(st.Players, PlayerStatus{Name: p.Name, Ping: p.Ping})
	}

	return st, nil
}

// gameModes is checked in order; "tdm" must precede "dm".
var gameModes = []struct {
	token string
	name  string
}{
	{"obj", "Objective"},
	{"tow", "Tug of War"},
	{"tdm", "Team Deathmatch"},
	{"dm", "Free-For-All"},
	{"lib", "Liberation"},
	{"ft", "Freeze Tag"},
	{"sd", "Search & Destroy"},
}

// GameMode maps a raw gametype to a display name. Empty means deathmatch;
// unrecognised values are returned upper-cased.
func GameMode(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		raw = "dm"
	}

	for _, m := range gameModes {
		if strings.Contains(raw, m.token) {
			return m.name
		}
	}

	return strings.ToUpper(raw)
}
