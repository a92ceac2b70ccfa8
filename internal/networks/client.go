// Package networks is the client for the 333networks master server JSON API.
// Every call goes through the shared response cache so the upstream is never asked
// more often than it refreshes its own data.
package networks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/alliedintel/internal/cache"
	"github.com/woozymasta/alliedintel/internal/config"
	"github.com/woozymasta/alliedintel/internal/models"
	"github.com/woozymasta/alliedintel/internal/vars"
	"golang.org/x/time/rate"
)

// maxBodySize caps a single upstream response; a full 1000 server page is well below it.
const maxBodySize = 8 << 20

// Client issues cached, rate limited GET requests against the master server.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	cache     *cache.Cache
	baseURL   string
	userAgent string
	pageSize  int
}

// New creates a client for cfg backed by the shared cache c.
func New(cfg config.Upstream, c *cache.Cache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = vars.UserAgent()
	}

	return &Client{
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		cache:     c,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		pageSize:  cfg.PageSize,
	}
}

// Cache exposes the shared response cache, for operational clearing.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// MOTD returns the message of the day for game.
func (c *Client) MOTD(ctx context.Context, game models.Game) (*MOTD, error) {
	const op = "motd"
	key := cache.Key("motd", string(game))

	return cache.Fetch(ctx, c.cache, key, 0, func(ctx context.Context) (*MOTD, error) {
		endpoint := c.baseURL + "/" + url.PathEscape(string(game)) + "/motd"
		log.Debug().Str("game", string(game)).Str("url", endpoint).Msg("Fetching MOTD")

		body, err := c.get(ctx, op, endpoint)
		if err != nil {
			return nil, err
		}

		return parseMOTD(op, body)
	})
}

// ServerList returns one page of the server list for q.Game.
// A zero Results uses the configured page size.
func (c *Client) ServerList(ctx context.Context, q ServerListQuery) (*ServerList, error) {
	const op = "serverlist"

	if q.Results == 0 && c.pageSize > 0 {
		q.Results = c.pageSize
	}
	params := q.Values()
	encoded := params.Encode()
	key := cache.HashKey(cache.Key("serverlist", string(q.Game)), encoded)

	return cache.Fetch(ctx, c.cache, key, 0, func(ctx context.Context) (*ServerList, error) {
		endpoint := c.baseURL + "/" + url.PathEscape(string(q.Game))
		if encoded != "" {
			endpoint += "?" + encoded
		}
		log.Debug().Str("game", string(q.Game)).Str("url", endpoint).Msg("Fetching server list")

		body, err := c.get(ctx, op, endpoint)
		if err != nil {
			return nil, err
		}

		return parseServerList(op, body)
	})
}

// ServerDetails returns details and the player roster of the server at ip:port.
func (c *Client) ServerDetails(ctx context.Context, game models.Game, ip string, port int) (*ServerDetails, error) {
	const op = "details"
	key := cache.Key("server", string(game), ip, strconv.Itoa(port))

	return cache.Fetch(ctx, c.cache, key, 0, func(ctx context.Context) (*ServerDetails, error) {
		endpoint := fmt.Sprintf("%s/%s/%s:%d", c.baseURL, url.PathEscape(string(game)), url.PathEscape(ip), port)
		log.Debug().Str("game", string(game)).Str("url", endpoint).Msg("Fetching server details")

		body, err := c.get(ctx, op, endpoint)
		if err != nil {
			return nil, err
		}

		return parseServerDetails(op, body)
	})
}

// AllServers fetches the list of every tracked game with the same filters.
func (c *Client) AllServers(ctx context.Context, q ServerListQuery) (map[models.Game]*ServerList, error) {
	out := make(map[models.Game]*ServerList, len(models.Games))
	for _, game := range models.Games {
		gq := q
		gq.Game = game

		list, err := c.ServerList(ctx, gq)
		if err != nil {
			return nil, err
		}
		out[game] = list
	}

	return out, nil
}

// get performs one rate limited request and returns the body of a 2xx response.
// Non-2xx responses carrying an API error object are reported as rejections.
func (c *Client) get(ctx context.Context, op, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, networkError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, networkError(op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, networkError(op, err)
	}

	log.Trace().
		Str("op", op).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Upstream responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if apiErr, ok := asAPIError(body); ok {
			return nil, rejectedError(op, apiErr)
		}
		return nil, &UpstreamError{Op: op, Kind: KindNetwork, Detail: "unexpected status " + resp.Status}
	}

	return body, nil
}
