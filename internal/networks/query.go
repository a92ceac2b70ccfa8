package networks

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/woozymasta/alliedintel/internal/models"
)

// Limits imposed by the list endpoint.
const (
	MaxResults     = 1000
	MaxFilterRunes = 90
)

var sortFields = map[string]struct{}{
	"country":    {},
	"hostname":   {},
	"gametype":   {},
	"ip":         {},
	"hostport":   {},
	"numplayers": {},
	"mapname":    {},
}

// ServerListQuery holds the list endpoint filters for one game.
// Zero values mean "not set".
type ServerListQuery struct {
	Game     models.Game
	SortBy   string // s: country, hostname, gametype, ip, hostport, numplayers, mapname
	Order    string // o: a or d
	Query    string // q
	GameType string
	Hostname string
	MapName  string
	Country  string // ISO 3166 alpha-2
	Results  int    // r: 1..1000
	Page     int    // p
}

// Values encodes the query as upstream parameters. Invalid values are dropped,
// Results is clamped to 1..MaxResults.
func (q ServerListQuery) Values() url.Values {
	v := url.Values{}

	if _, ok := sortFields[q.SortBy]; ok {
		v.Set("s", q.SortBy)
	}
	if q.Order == "a" || q.Order == "d" {
		v.Set("o", q.Order)
	}
	if q.Results != 0 {
		v.Set("r", strconv.Itoa(min(max(q.Results, 1), MaxResults)))
	}
	if q.Page > 0 {
		v.Set("p", strconv.Itoa(q.Page))
	}

	setFilter(v, "q", q.Query)
	setFilter(v, "gametype", q.GameType)
	setFilter(v, "hostname", q.Hostname)
	setFilter(v, "mapname", q.MapName)

	if c := strings.ToUpper(strings.TrimSpace(q.Country)); isCountryCode(c) {
		v.Set("country", c)
	}

	return v
}

func setFilter(v url.Values, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" || utf8.RuneCountInString(value) > MaxFilterRunes {
		return
	}
	v.Set(key, value)
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}

	return true
}
