// Package fake provides utilities for generating random snapshot history for testing and development purposes.
package fake

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/woozymasta/alliedintel/internal/logger"
	"github.com/woozymasta/alliedintel/internal/models"
)

// Recorder persists a snapshot together with its server identity.
type Recorder interface {
	RecordSnapshot(ctx context.Context, s models.Server, snap *models.Snapshot) (models.Server, error)
}

var (
	maps = map[models.Game][]string{
		models.GameMOHAA:  {"obj/obj_team1", "obj/obj_team2", "obj/obj_team3", "obj/obj_team4", "dm/mohdm1", "dm/mohdm6", "dm/mohdm7"},
		models.GameMOHAAS: {"dm/mp_bahnhof_dm", "dm/mp_stadt_dm", "obj/mp_ardennes_tow", "obj/mp_berlin_tow"},
		models.GameMOHAAB: {"lib/mp_anzio_lib", "obj/mp_palermo_obj", "obj/mp_montecassino_tow"},
	}
	gameTypes = []string{"obj", "tow", "tdm", "dm", "lib", "ft"}
	versions  = []string{"1.11", "2.15", "2.40b", "0.81.1+opm"}
	countries = []string{"US", "DE", "NL", "FR", "GB", "PL", "RU", "BR", "SE", "BE"}
	names     = []string{"Able", "Baker", "Charlie", "Dog", "Easy", "Fox", "George", "How", "Item", "Jig", "King", "Love"}
)

// GenerateData writes count snapshots spread over the last 7 days, across a pool of
// randomized servers, so history and statistics queries have data to work with.
func GenerateData(ctx context.Context, store Recorder, count int) {
	log := logger.With("fake")

	pool := make([]models.Server, 0, max(count/50, 5))
	for i := 0; i < cap(pool); i++ {
		game := models.Games[rand.Intn(len(models.Games))]
		pool = append(pool, models.Server{
			ExternalID: i + 1,
			IP:         fmt.Sprintf("%d.%d.%d.%d", rand.Intn(220)+1, rand.Intn(255), rand.Intn(255), rand.Intn(255)),
			Port:       12203 + rand.Intn(10),
			Hostname:   fmt.Sprintf("Fake %s Server #%d", game.Title(), i+1),
			Game:       game,
			Country:    countries[rand.Intn(len(countries))],
			FirstSeen:  time.Now().Add(-8 * 24 * time.Hour),
		})
	}

	var failed int
	for i := 0; i < count; i++ {
		srv := pool[rand.Intn(len(pool))]
		capacity := 16 + 8*rand.Intn(4)
		at := time.Now().Add(-time.Duration(rand.Int63n(int64(7 * 24 * time.Hour))))

		snap := &models.Snapshot{
			CapturedAt:  at,
			MapName:     maps[srv.Game][rand.Intn(len(maps[srv.Game]))],
			GameType:    gameTypes[rand.Intn(len(gameTypes))],
			GameVersion: versions[rand.Intn(len(versions))],
			TimeLimit:   "20",
			MaxPlayers:  capacity,
			NumPlayers:  1 + rand.Intn(capacity),
		}
		for p := 0; p < snap.NumPlayers; p++ {
			snap.Players = append(snap.Players, models.Player{
				Name:  fmt.Sprintf("%s%d", names[rand.Intn(len(names))], rand.Intn(100)),
				Frags: rand.Intn(60),
				Ping:  20 + rand.Intn(200),
			})
		}

		if _, err := store.RecordSnapshot(ctx, srv, snap); err != nil {
			failed++
			log.Warn().Err(err).Msg("Failed to generate fake snapshot")
		}
	}

	log.Info().Int("servers", len(pool)).Int("snapshots", count-failed).Msg("Fake data generated")
}
