package networks

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// MOTD is the master server message of the day for one game.
type MOTD struct {
	HTML    string `json:"html"`
	Servers int    `json:"servers"`
	Players int    `json:"players"`
}

// ServerList is the list endpoint response.
type ServerList struct {
	Servers  []ServerInfo `json:"servers"`
	Metadata ListMetadata `json:"metadata"`
}

// ListMetadata carries the totals of the list endpoint.
type ListMetadata struct {
	Players int `json:"players"`
	Total   int `json:"total"`
}

// ServerInfo is one row of the list endpoint.
type ServerInfo struct {
	IP         string `json:"ip"`
	Hostname   string `json:"hostname"`
	GameName   string `json:"gamename"`
	GameType   string `json:"gametype,omitempty"`
	Label      string `json:"label,omitempty"`
	Country    string `json:"country,omitempty"`
	MapTitle   string `json:"maptitle,omitempty"`
	MapName    string `json:"mapname,omitempty"`
	DtAdded    int64  `json:"dt_added"`
	DtUpdated  int64  `json:"dt_updated"`
	ID         int    `json:"id"`
	HostPort   int    `json:"hostport"`
	NumPlayers int    `json:"numplayers"`
	MaxPlayers int    `json:"maxplayers"`
}

type wireServerInfo struct {
	IP         looseString `json:"ip"`
	Hostname   looseString `json:"hostname"`
	GameName   looseString `json:"gamename"`
	GameType   looseString `json:"gametype"`
	Label      looseString `json:"label"`
	Country    looseString `json:"country"`
	MapTitle   looseString `json:"maptitle"`
	MapName    looseString `json:"mapname"`
	DtAdded    looseInt    `json:"dt_added"`
	DtUpdated  looseInt    `json:"dt_updated"`
	ID         looseInt    `json:"id"`
	HostPort   looseInt    `json:"hostport"`
	NumPlayers looseInt    `json:"numplayers"`
	MaxPlayers looseInt    `json:"maxplayers"`
}

// UnmarshalJSON decodes a list row, tolerating inconsistent field typing.
func (s *ServerInfo) UnmarshalJSON(b []byte) error {
	var w wireServerInfo
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	*s = ServerInfo{
		ID:         int(w.ID),
		IP:         string(w.IP),
		HostPort:   int(w.HostPort),
		Hostname:   string(w.Hostname),
		GameName:   string(w.GameName),
		GameType:   string(w.GameType),
		Label:      string(w.Label),
		Country:    string(w.Country),
		NumPlayers: int(w.NumPlayers),
		MaxPlayers: int(w.MaxPlayers),
		MapTitle:   string(w.MapTitle),
		MapName:    string(w.MapName),
		DtAdded:    int64(w.DtAdded),
		DtUpdated:  int64(w.DtUpdated),
	}

	return nil
}

// ServerDetails is the detail endpoint response for one server.
type ServerDetails struct {
	IP                  string   `json:"ip"`
	Hostname            string   `json:"hostname"`
	GameName            string   `json:"gamename"`
	MapName             string   `json:"mapname,omitempty"`
	MapTitle            string   `json:"maptitle,omitempty"`
	MapURL              string   `json:"mapurl,omitempty"`
	AdminName           string   `json:"adminname,omitempty"`
	AdminEmail          string   `json:"adminemail,omitempty"`
	GameVersion         string   `json:"gamever,omitempty"`
	GameType            string   `json:"gametype,omitempty"`
	GameStyle           string   `json:"gamestyle,omitempty"`
	Country             string   `json:"country,omitempty"`
	ListenServer        string   `json:"listenserver,omitempty"`
	Password            string   `json:"password,omitempty"`
	ChangeLevels        string   `json:"changelevels,omitempty"`
	BotSkill            string   `json:"botskill,omitempty"`
	BalanceTeams        string   `json:"balanceteams,omitempty"`
	PlayersBalanceTeams string   `json:"playersbalanceteams,omitempty"`
	FriendlyFire        string   `json:"friendlyfire,omitempty"`
	MaxTeams            string   `json:"maxteams,omitempty"`
	TimeLimit           string   `json:"timelimit,omitempty"`
	GoalTeamScore       string   `json:"goalteamscore,omitempty"`
	FragLimit           string   `json:"fraglimit,omitempty"`
	Mutators            string   `json:"mutators,omitempty"`
	Misc                string   `json:"misc,omitempty"`
	Players             []Player `json:"players"`
	DtUpdated           int64    `json:"dt_updated"`
	ID                  int      `json:"id"`
	HostPort            int      `json:"hostport"`
	MinPlayers          int      `json:"minplayers"`
	NumPlayers          int      `json:"numplayers"`
	MaxPlayers          int      `json:"maxplayers"`
}

type wireServerDetails struct {
	IP                  looseString `json:"ip"`
	Hostname            looseString `json:"hostname"`
	GameName            looseString `json:"gamename"`
	MapName             looseString `json:"mapname"`
	MapTitle            looseString `json:"maptitle"`
	MapURL              looseString `json:"mapurl"`
	AdminName           looseString `json:"adminname"`
	AdminEmail          looseString `json:"adminemail"`
	GameVersion         looseString `json:"gamever"`
	GameType            looseString `json:"gametype"`
	GameStyle           looseString `json:"gamestyle"`
	Country             looseString `json:"country"`
	ListenServer        looseString `json:"listenserver"`
	Password            looseString `json:"password"`
	ChangeLevels        looseString `json:"changelevels"`
	BotSkill            looseString `json:"botskill"`
	BalanceTeams        looseString `json:"balanceteams"`
	PlayersBalanceTeams looseString `json:"playersbalanceteams"`
	FriendlyFire        looseString `json:"friendlyfire"`
	MaxTeams            looseString `json:"maxteams"`
	TimeLimit           looseString `json:"timelimit"`
	GoalTeamScore       looseString `json:"goalteamscore"`
	FragLimit           looseString `json:"fraglimit"`
	Mutators            looseString `json:"mutators"`
	Misc                looseString `json:"misc"`
	DtUpdated           looseInt    `json:"dt_updated"`
	ID                  looseInt    `json:"id"`
	HostPort            looseInt    `json:"hostport"`
	MinPlayers          looseInt    `json:"minplayers"`
	NumPlayers          looseInt    `json:"numplayers"`
	MaxPlayers          looseInt    `json:"maxplayers"`
}

// UnmarshalJSON decodes the flat detail object and collects its player_N entries.
func (d *ServerDetails) UnmarshalJSON(b []byte) error {
	var w wireServerDetails
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	*d = ServerDetails{
		ID:                  int(w.ID),
		IP:                  string(w.IP),
		HostPort:            int(w.HostPort),
		Hostname:            string(w.Hostname),
		GameName:            string(w.GameName),
		MapName:             string(w.MapName),
		MapTitle:            string(w.MapTitle),
		MapURL:              string(w.MapURL),
		AdminName:           string(w.AdminName),
		AdminEmail:          string(w.AdminEmail),
		GameVersion:         string(w.GameVersion),
		GameType:            string(w.GameType),
		GameStyle:           string(w.GameStyle),
		Country:             string(w.Country),
		ListenServer:        string(w.ListenServer),
		Password:            string(w.Password),
		ChangeLevels:        string(w.ChangeLevels),
		BotSkill:            string(w.BotSkill),
		BalanceTeams:        string(w.BalanceTeams),
		PlayersBalanceTeams: string(w.PlayersBalanceTeams),
		FriendlyFire:        string(w.FriendlyFire),
		MaxTeams:            string(w.MaxTeams),
		TimeLimit:           string(w.TimeLimit),
		GoalTeamScore:       string(w.GoalTeamScore),
		FragLimit:           string(w.FragLimit),
		Mutators:            string(w.Mutators),
		Misc:                string(w.Misc),
		DtUpdated:           int64(w.DtUpdated),
		MinPlayers:          int(w.MinPlayers),
		NumPlayers:          int(w.NumPlayers),
		MaxPlayers:          int(w.MaxPlayers),
		Players:             extractPlayers(fields),
	}

	return nil
}

// Player is one roster entry of a detail response.
type Player struct {
	Name     string `json:"name"`
	Team     string `json:"team,omitempty"`
	Mesh     string `json:"mesh,omitempty"`
	Skin     string `json:"skin,omitempty"`
	Face     string `json:"face,omitempty"`
	Misc     string `json:"misc,omitempty"`
	DtPlayer int64  `json:"dt_player"`
	SID      int    `json:"sid"`
	Frags    int    `json:"frags"`
	Ping     int    `json:"ping"`
}

type wirePlayer struct {
	Name     looseString `json:"name"`
	Team     looseString `json:"team"`
	Mesh     looseString `json:"mesh"`
	Skin     looseString `json:"skin"`
	Face     looseString `json:"face"`
	Misc     looseString `json:"misc"`
	DtPlayer looseInt    `json:"dt_player"`
	SID      looseInt    `json:"sid"`
	Frags    looseInt    `json:"frags"`
	Ping     looseInt    `json:"ping"`
}

const playerPrefix = "player_"

// extractPlayers picks every player_N field, orders them by N and decodes each.
// Gaps in numbering are fine; values that are not objects and keys whose suffix
// is not a number are skipped.
func extractPlayers(fields map[string]json.RawMessage) []Player {
	type numbered struct {
		raw json.RawMessage
		n   int
	}

	var found []numbered
	for key, raw := range fields {
		suffix, ok := strings.CutPrefix(key, playerPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 {
			continue
		}
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}
		found = append(found, numbered{n: n, raw: raw})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	players := make([]Player, 0, len(found))
	for _, f := range found {
		var w wirePlayer
		if err := json.Unmarshal(f.raw, &w); err != nil {
			continue
		}
		players = append(players, Player{
			SID:      int(w.SID),
			Name:     string(w.Name),
			Team:     string(w.Team),
			Frags:    int(w.Frags),
			Mesh:     string(w.Mesh),
			Skin:     string(w.Skin),
			Face:     string(w.Face),
			Ping:     int(w.Ping),
			DtPlayer: int64(w.DtPlayer),
			Misc:     string(w.Misc),
		})
	}

	return players
}

// APIError is the error object the master server returns instead of data.
type APIError struct {
	Options  map[string]any `json:"options,omitempty"`
	In       string         `json:"in"`
	Internal string         `json:"internal,omitempty"`
	IP       string         `json:"ip,omitempty"`
	Port     string         `json:"port,omitempty"`
	Code     int            `json:"error"`
}

type wireAPIError struct {
	Options  json.RawMessage `json:"options"`
	In       looseString     `json:"in"`
	Internal looseString     `json:"internal"`
	IP       looseString     `json:"ip"`
	Port     looseString     `json:"port"`
	Code     looseInt        `json:"error"`
}

// UnmarshalJSON decodes an error object.
func (e *APIError) UnmarshalJSON(b []byte) error {
	var w wireAPIError
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var options map[string]any
	if len(w.Options) > 0 {
		_ = json.Unmarshal(w.Options, &options)
	}

	*e = APIError{
		Code:     int(w.Code),
		In:       string(w.In),
		Internal: string(w.Internal),
		Options:  options,
		IP:       string(w.IP),
		Port:     string(w.Port),
	}

	return nil
}
