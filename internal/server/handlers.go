package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/alliedintel/internal/history"
	"github.com/woozymasta/alliedintel/internal/models"
	"github.com/woozymasta/alliedintel/internal/networks"
	"github.com/woozymasta/alliedintel/internal/resolver"
	"github.com/woozymasta/alliedintel/internal/snapshot"
	"github.com/woozymasta/alliedintel/internal/vars"
)

// defaultHistoryWindow is used when a history query has no start.
const defaultHistoryWindow = 24 * time.Hour

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		upstreamErr   *networks.UpstreamError
		resolutionErr *resolver.ResolutionError
	)

	switch {
	case errors.As(err, &upstreamErr):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Upstream request failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: upstreamErr.Error(), Kind: upstreamErr.Kind.String()})
	case errors.As(err, &resolutionErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: resolutionErr.Error()})
	case errors.Is(err, history.ErrServerNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, history.ErrInvalidRange), errors.Is(err, history.ErrInvalidBucket):
		badRequest(w, err.Error())
	case errors.Is(err, snapshot.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func gameParam(w http.ResponseWriter, r *http.Request) (models.Game, bool) {
	game, ok := models.ParseGame(r.PathValue("game"))
	if !ok {
		badRequest(w, fmt.Sprintf("unknown game %q", r.PathValue("game")))
	}

	return game, ok
}

func portParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil || port < 1 || port > 65535 {
		badRequest(w, "invalid port")
		return 0, false
	}

	return port, true
}

// listQuery reads the list filters shared by the per-game and all-games routes.
func listQuery(r *http.Request) (networks.ServerListQuery, error) {
	q := r.URL.Query()
	lq := networks.ServerListQuery{
		SortBy:   q.Get("s"),
		Order:    q.Get("o"),
		Query:    q.Get("q"),
		GameType: q.Get("gametype"),
		Hostname: q.Get("hostname"),
		MapName:  q.Get("mapname"),
		Country:  q.Get("country"),
	}

	for _, p := range []struct {
		dst  *int
		name string
	}{{&lq.Results, "r"}, {&lq.Page, "p"}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return lq, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = n
	}

	return lq, nil
}

// handleMOTD returns the master server message of the day for a game.
func (s *Server) handleMOTD(w http.ResponseWriter, r *http.Request) {
	game, ok := gameParam(w, r)
	if !ok {
		return
	}

	motd, err := s.upstream.MOTD(r.Context(), game)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, motd)
}

// handleServerList proxies one page of the live server list.
// Query params: s, o, r, p, q, gametype, hostname, mapname, country
func (s *Server) handleServerList(w http.ResponseWriter, r *http.Request) {
	game, ok := gameParam(w, r)
	if !ok {
		return
	}

	q, err := listQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	q.Game = game

	list, err := s.upstream.ServerList(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// handleAllServers returns the live list of every tracked game with the same filters.
func (s *Server) handleAllServers(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	lists, err := s.upstream.AllServers(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, lists)
}

// handleServerDetails returns live details and roster of one server.
func (s *Server) handleServerDetails(w http.ResponseWriter, r *http.Request) {
	game, ok := gameParam(w, r)
	if !ok {
		return
	}
	port, ok := portParam(w, r)
	if !ok {
		return
	}

	details, err := s.upstream.ServerDetails(r.Context(), game, r.PathValue("ip"), port)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// handleCacheClear purges one cache key, or all keys when ?key is absent.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	n := s.upstream.Cache().Clear(key)

	log.Info().Str("key", key).Int("cleared", n).Msg("Cache cleared manually")

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "key": key, "cleared": n})
}

// handleSnapshotRun runs a sweep and returns its summary; 409 while another sweep runs.
// The run is detached from the request so a client disconnect does not cut it short,
// and the server write deadline is lifted since a full sweep can outlast it.
func (s *Server) handleSnapshotRun(w http.ResponseWriter, r *http.Request) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("Write deadline not cleared for snapshot run")
	}

	summary, err := s.snapshots.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSnapshotStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots.Status())
}

// handleHistory returns the bucketed player count of a server.
// Query params: start, end (RFC3339 or unix seconds; default last 24h), bucket (seconds; default 900)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	now := time.Now().UTC()

	end, err := parseTime(q.Get("end"), now)
	if err != nil {
		badRequest(w, "invalid end: "+err.Error())
		return
	}
	start, err := parseTime(q.Get("start"), end.Add(-defaultHistoryWindow))
	if err != nil {
		badRequest(w, "invalid start: "+err.Error())
		return
	}

	var bucket time.Duration
	if raw := q.Get("bucket"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "invalid bucket")
			return
		}
		bucket = time.Duration(secs) * time.Second
		if bucket <= 0 {
			badRequest(w, history.ErrInvalidBucket.Error())
			return
		}
	}

	points, err := s.history.HistoryByAddress(r.Context(), r.PathValue("host"), port, start, end, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, points)
}

// parseTime accepts RFC3339 or unix seconds; empty input returns def.
func parseTime(raw string, def time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}

	return time.Parse(time.RFC3339, raw)
}

// handleStatus returns the latest stored state of a server.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}

	st, err := s.history.Status(r.Context(), r.PathValue("host"), port)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMostPlayedMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.history.MostPlayedMaps(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}
