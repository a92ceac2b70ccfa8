package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/woozymasta/alliedintel/internal/models"
)

// AllGames is the key of the cross-game entry in MostPlayedMaps results.
const AllGames = "all"

type mapName struct {
	code string
	name string
}

// mapNames lists stock maps of the three titles. Order matters for fuzzy matches.
var mapNames = []mapName{
	// Allied Assault
	{"dm/mohdm1", "Southern France"},
	{"dm/mohdm2", "Destroyed Village"},
	{"dm/mohdm3", "Remagen"},
	{"dm/mohdm4", "The Crossroads"},
	{"dm/mohdm5", "Snowy Park"},
	{"dm/mohdm6", "Stalingrad"},
	{"dm/mohdm7", "Algiers"},
	{"obj/obj_team1", "The Hunt"},
	{"obj/obj_team2", "V2 Rocket Facility"},
	{"obj/obj_team3", "Omaha Beach"},
	{"obj/obj_team4", "The Bridge"},

	// Spearhead
	{"mp_bahnhof_dm", "Bahnhof"},
	{"mp_bazaar_dm", "Bazaar"},
	{"mp_brest_dm", "Brest"},
	{"mp_gewitter_dm", "Gewitter"},
	{"mp_holland_dm", "Holland"},
	{"mp_malta_dm", "Malta"},
	{"mp_stadt_dm", "Stadt"},
	{"mp_unterseite_dm", "Unterseite"},
	{"mp_verschneit_dm", "Verschneit"},
	{"mp_ardennes_tow", "Ardennes"},
	{"mp_berlin_tow", "Berlin"},
	{"mp_druckkammern_tow", "Druckkammern"},
	{"mp_flughafen_tow", "Flughafen"},

	// Breakthrough
	{"mp_anzio_lib", "Anzio"},
	{"mp_bizerteharbor_lib", "Bizerte Harbor"},
	{"mp_ship_lib", "Ship (Stuckguter)"},
	{"mp_tunisia_lib", "Tunisia"},
	{"mp_bizertefort_obj", "Bizerte Fort"},
	{"mp_bologna_obj", "Bologna"},
	{"mp_castello_obj", "Castello"},
	{"mp_palermo_obj", "Palermo"},
	{"mp_kasserline_tow", "Kasserine Pass"},
	{"mp_montebattaglia_tow", "Monte Battaglia"},
	{"mp_montecassino_tow", "Monte Cassino"},
}

// MapFullName returns the display name of a map code, or "" when unknown.
// An exact code wins; otherwise the first code containing the name, then the first
// code contained in the name ("dm/mp_bahnhof_dm" finds "mp_bahnhof_dm").
func MapFullName(code string) string {
	if code == "" {
		return ""
	}

	for _, m := range mapNames {
		if m.code == code {
			return m.name
		}
	}

	lower := strings.ToLower(code)
	for _, m := range mapNames {
		if strings.Contains(m.code, lower) {
			return m.name
		}
	}
	for _, m := range mapNames {
		if strings.Contains(lower, m.code) {
			return m.name
		}
	}

	return ""
}

// MostPlayedMaps returns the most snapshotted map of the last 24 hours for every
// tracked game and for all games together. Games with no data map to nil.
func (s *Service) MostPlayedMaps(ctx context.Context) (map[string]*models.MapFrequency, error) {
	since := s.now().Add(-statusWindow)
	out := make(map[string]*models.MapFrequency, len(models.Games)+1)

	top := func(game models.Game) (*models.MapFrequency, error) {
		freq, err := s.store.MostPlayedMaps(ctx, since, game, 1)
		if err != nil {
			return nil, fmt.Errorf("most played maps %q: %w", game, err)
		}
		if len(freq) == 0 {
			return nil, nil
		}

		f := freq[0]
		f.FullName = MapFullName(f.MapName)
		return &f, nil
	}

	for _, game := range models.Games {
		f, err := top(game)
		if err != nil {
			return nil, err
		}
		out[string(game)] = f
	}

	f, err := top("")
	if err != nil {
		return nil, err
	}
	out[AllGames] = f

	return out, nil
}
