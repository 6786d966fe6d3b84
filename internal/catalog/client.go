// Package catalog talks to the remote catalog service. It is a thin,
// rate-limited HTTP client: paging, auth and status mapping live here,
// reconciliation logic does not.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/franz/playlist-sync/internal/util"
)

const (
	// UserAgent identifies this application to the catalog service
	UserAgent = "playlist-sync/1.0 (https://github.com/franz/playlist-sync)"

	// DefaultRateLimit is the request budget against the catalog API
	DefaultRateLimit = rate.Limit(2) // requests per second

	// DefaultPageSize is how many records one page request asks for
	DefaultPageSize = 100
)

// ErrContentGone marks content the catalog no longer serves (404 on a
// known id). Callers record it instead of retrying.
var ErrContentGone = errors.New("content gone upstream")

// Config holds the connection settings for the catalog service
type Config struct {
	BaseURL   string
	Token     string
	RateLimit rate.Limit
	PageSize  int
	Timeout   time.Duration
}

// Client handles catalog API requests with rate limiting
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	pageSize   int
}

// NewClient creates a new catalog API client
func NewClient(cfg Config) *Client {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		limiter:    rate.NewLimiter(cfg.RateLimit, 1),
		pageSize:   cfg.PageSize,
	}
}

// Collection is one collection as the catalog reports it
type Collection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ItemCount   int    `json:"item_count"`
}

// Item is one collection entry as the catalog reports it
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	DurationMs  int    `json:"duration_ms"`
	Position    int    `json:"position"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

type collectionsPage struct {
	Items []Collection `json:"items"`
	Total int          `json:"total"`
}

type itemsPage struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// ListCollections returns every collection the account has, fully paged
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var all []Collection

	for offset := 0; ; offset += c.pageSize {
		urlStr := fmt.Sprintf("%s/v1/collections?limit=%d&offset=%d", c.baseURL, c.pageSize, offset)

		var page collectionsPage
		if err := c.getJSON(ctx, urlStr, &page); err != nil {
			return nil, fmt.Errorf("listing collections: %w", err)
		}

		all = append(all, page.Items...)
		if len(page.Items) < c.pageSize || len(all) >= page.Total {
			break
		}
	}

	util.DebugLog("catalog: listed %d collections", len(all))
	return all, nil
}

// ListItems returns the current item list of one collection, fully paged.
// A 404 maps to ErrContentGone: the collection vanished between calls.
func (c *Client) ListItems(ctx context.Context, collectionID string) ([]Item, error) {
	var all []Item

	for offset := 0; ; offset += c.pageSize {
		urlStr := fmt.Sprintf("%s/v1/collections/%s/items?limit=%d&offset=%d",
			c.baseURL, url.PathEscape(collectionID), c.pageSize, offset)

		var page itemsPage
		if err := c.getJSON(ctx, urlStr, &page); err != nil {
			return nil, fmt.Errorf("listing items of %s: %w", collectionID, err)
		}

		all = append(all, page.Items...)
		if len(page.Items) < c.pageSize || len(all) >= page.Total {
			break
		}
	}

	util.DebugLog("catalog: listed %d items for collection %s", len(all), collectionID)
	return all, nil
}

// Download streams one item's content into w. It returns the bytes
// copied and the delivered audio format so callers can decide whether
// a conversion step is needed.
func (c *Client) Download(ctx context.Context, itemID string, w io.Writer) (int64, string, error) {
	urlStr := fmt.Sprintf("%s/v1/items/%s/download", c.baseURL, url.PathEscape(itemID))

	resp, err := c.get(ctx, urlStr)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return 0, "", err
	}

	format := formatFromResponse(resp)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, format, fmt.Errorf("%w: reading download stream: %v", util.ErrTransferFailure, err)
	}
	return n, format, nil
}

// contentTypeFormats maps delivery MIME types onto file extensions
var contentTypeFormats = map[string]string{
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/flac": "flac",
	"audio/x-flac": "flac",
	"audio/mp4":  "m4a",
	"audio/m4a":  "m4a",
	"audio/aac":  "m4a",
	"audio/wav":  "wav",
	"audio/x-wav": "wav",
}

func formatFromResponse(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if f, ok := contentTypeFormats[strings.TrimSpace(strings.ToLower(ct))]; ok {
		return f
	}

	// Fall back to the filename the server suggests, if any
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if ext := strings.TrimPrefix(filepath.Ext(params["filename"]), "."); ext != "" {
				return strings.ToLower(ext)
			}
		}
	}
	return "mp3"
}

// getJSON performs a GET request and decodes the JSON response into out
func (c *Client) getJSON(ctx context.Context, urlStr string, out any) error {
	resp, err := c.get(ctx, urlStr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, urlStr string) (*http.Response, error) {
	// Honor the request budget before touching the network
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrSourceUnavailable, err)
	}
	return resp, nil
}

// checkStatus maps HTTP status codes onto the error kinds callers act on
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrContentGone
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: auth rejected (%d)", util.ErrSourceUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", util.ErrSourceUnavailable, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
}
