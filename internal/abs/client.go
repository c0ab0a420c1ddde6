// Package abs is a thin client for the Audiobookshelf HTTP API. It receives
// a decrypted API key from the vault and never sees ciphertext, salts, or
// the master secret.
package abs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	itemPageLimit = 1000
	maxItemPages  = 10
)

// Library is one library on the server.
type Library struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is one library item (book). Title and author live in nested media
// metadata on the wire.
type Item struct {
	ID    string `json:"id"`
	Media struct {
		Metadata struct {
			Title      string `json:"title"`
			AuthorName string `json:"authorName"`
		} `json:"metadata"`
	} `json:"media"`
}

// Title returns the item title, or a placeholder when missing.
func (i Item) Title() string {
	if t := i.Media.Metadata.Title; t != "" {
		return t
	}
	return "Unknown Title"
}

// Author returns the item author, or a placeholder when missing.
func (i Item) Author() string {
	if a := i.Media.Metadata.AuthorName; a != "" {
		return a
	}
	return "Unknown Author"
}

// ItemDetails is the detail view of an item.
type ItemDetails struct {
	ID        string `json:"id"`
	CoverPath string `json:"coverPath"`
}

// Client talks to one Audiobookshelf server with one API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient returns a client for the given server. The API key goes into
// the Authorization header of every request and is never logged.
func NewClient(serverURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// NormalizeServerURL applies the same cleanup the interactive setup does:
// https by default, no trailing slash.
func NormalizeServerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimRight(raw, "/")
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

func (c *Client) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, path, query)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Ping verifies the server is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var ignored struct{}
	if err := c.getJSON(ctx, "/api/libraries", nil, &ignored); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// Libraries lists the libraries on the server.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var payload struct {
		Libraries []Library `json:"libraries"`
	}
	if err := c.getJSON(ctx, "/api/libraries", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Libraries, nil
}

// LibraryItems returns every item in a library, following page-based
// pagination and dropping duplicate ids.
func (c *Client) LibraryItems(ctx context.Context, libraryID string) ([]Item, error) {
	path := "/api/libraries/" + libraryID + "/items"

	fetch := func(page int) ([]Item, int, error) {
		query := url.Values{"limit": {strconv.Itoa(itemPageLimit)}}
		if page > 0 {
			query.Set("page", strconv.Itoa(page))
		}
		var payload struct {
			Items   []Item `json:"items"`
			Results []Item `json:"results"`
			Total   int    `json:"total"`
		}
		if err := c.getJSON(ctx, path, query, &payload); err != nil {
			return nil, 0, err
		}
		items := payload.Items
		if len(items) == 0 {
			items = payload.Results
		}
		return items, payload.Total, nil
	}

	items, total, err := fetch(0)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[it.ID] = true
	}

	for page := 1; page <= maxItemPages && len(items) < total; page++ {
		pageItems, _, err := fetch(page)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, it := range pageItems {
			if it.ID == "" || seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			items = append(items, it)
			added++
		}
		if added == 0 || len(pageItems) < itemPageLimit {
			break
		}
	}

	c.logger.Info().Str("library", libraryID).Int("items", len(items)).Msg("fetched library items")
	return items, nil
}

// ItemDetails fetches the detail view of one item.
func (c *Client) ItemDetails(ctx context.Context, itemID string) (ItemDetails, error) {
	var details ItemDetails
	if err := c.getJSON(ctx, "/api/items/"+itemID, nil, &details); err != nil {
		return ItemDetails{}, err
	}
	return details, nil
}

// DownloadItem streams the item's ZIP archive to w, returning the number of
// bytes written.
func (c *Client) DownloadItem(ctx context.Context, itemID string, w io.Writer, buf []byte) (int64, error) {
	return c.downloadPath(ctx, "/api/items/"+itemID+"/download", w, buf)
}

// DownloadCover streams the item's cover image to w. coverPath comes from
// the item details and is server-relative.
func (c *Client) DownloadCover(ctx context.Context, coverPath string, w io.Writer, buf []byte) (int64, error) {
	return c.downloadPath(ctx, coverPath, w, buf)
}

func (c *Client) downloadPath(ctx context.Context, path string, w io.Writer, buf []byte) (int64, error) {
	req, err := c.newRequest(ctx, path, nil)
	if err != nil {
		return 0, err
	}
	// Downloads can far exceed the API timeout; rely on ctx instead.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: unexpected status %d", path, resp.StatusCode)
	}
	if len(buf) == 0 {
		buf = make([]byte, 8192)
	}
	return io.CopyBuffer(w, resp.Body, buf)
}
