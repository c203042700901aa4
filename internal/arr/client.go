// Package arr provides history clients for Sonarr, Radarr and Whisparr.
package arr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/putreap/putreap/internal/httpx"
)

// History paging parameters. The Arr history APIs are 1-based.
const (
	historyPageSize  = 1000
	historyFirstPage = 1
)

// eventDownloadFolderImported is the history event recorded when an Arr
// service imports a file from the download folder.
const eventDownloadFolderImported = "downloadFolderImported"

// DefaultHTTPTimeout bounds individual history requests.
const DefaultHTTPTimeout = 30 * time.Second

// Breaker tuning: open after consecutiveFailures, probe again after openFor.
const (
	consecutiveFailures = 5
	openFor             = 2 * time.Minute
)

// Client queries one Arr instance's history API. It is safe for
// concurrent use.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*historyPage]
	logger     zerolog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a history client for one Arr instance.
func New(name, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   DefaultHTTPTimeout,
			Transport: httpx.NewRetryTransport(),
		},
		logger: zerolog.Nop(),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*historyPage](gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the configured name of this Arr instance.
func (c *Client) Name() string {
	return c.name
}

// historyRecord is one entry of the paged history response.
type historyRecord struct {
	EventType string `json:"eventType"`
	Data      struct {
		DroppedPath string `json:"droppedPath"`
	} `json:"data"`
}

// historyPage is one page of the history response.
type historyPage struct {
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	TotalRecords int             `json:"totalRecords"`
	Records      []historyRecord `json:"records"`
}

// HasImported reports whether this instance's history contains a
// downloadFolderImported event whose droppedPath equals path. Pages are
// walked until a match is found or totalRecords entries were inspected.
func (c *Client) HasImported(ctx context.Context, path string) (bool, error) {
	inspected := 0
	for page := historyFirstPage; ; page++ {
		hp, err := c.fetchHistoryPage(ctx, page)
		if err != nil {
			return false, err
		}

		for _, rec := range hp.Records {
			if rec.EventType == eventDownloadFolderImported && rec.Data.DroppedPath == path {
				return true, nil
			}
		}

		inspected += len(hp.Records)
		if inspected >= hp.TotalRecords || len(hp.Records) == 0 {
			return false, nil
		}
	}
}

func (c *Client) fetchHistoryPage(ctx context.Context, page int) (*historyPage, error) {
	return c.breaker.Execute(func() (*historyPage, error) {
		params := url.Values{
			"includeSeries":  {"false"},
			"includeEpisode": {"false"},
			"page":           {strconv.Itoa(page)},
			"pageSize":       {strconv.Itoa(historyPageSize)},
		}

		req, err := http.NewRequestWithContext(
			ctx, http.MethodGet,
			c.baseURL+"/api/v3/history?"+params.Encode(),
			nil,
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		var hp historyPage
		if err = json.NewDecoder(resp.Body).Decode(&hp); err != nil {
			return nil, fmt.Errorf("decode history page: %w", err)
		}
		return &hp, nil
	})
}

// IsUnreachable reports whether err means the instance is plainly not
// reachable right now: the circuit breaker is open or the connection was
// refused. Callers log these at debug instead of warning.
func IsUnreachable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
