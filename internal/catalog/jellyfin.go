package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/jellyradio/internal/utils"
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultRPS     = 5

	// Jellyfin reports durations in 100ns ticks.
	tick = 100 * time.Nanosecond

	maxErrorBodyReadSize = 1024
)

// JellyfinClient reads playlists from a Jellyfin server.
type JellyfinClient struct {
	BaseURL string
	APIKey  string
	// UserID scopes playlist listing; empty lists through the admin view.
	UserID     string
	HTTPClient *http.Client

	limiter *rate.Limiter
	log     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

type JellyfinOption func(*JellyfinClient)

func WithHTTPClient(client *http.Client) JellyfinOption {
	return func(c *JellyfinClient) { c.HTTPClient = client }
}

func WithUserID(id string) JellyfinOption {
	return func(c *JellyfinClient) { c.UserID = id }
}

// WithRateLimit caps requests per second; zero or less disables limiting.
func WithRateLimit(rps float64) JellyfinOption {
	return func(c *JellyfinClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithRand makes item selection reproducible.
func WithRand(rng *rand.Rand) JellyfinOption {
	return func(c *JellyfinClient) { c.rng = rng }
}

func WithLogger(l *slog.Logger) JellyfinOption {
	return func(c *JellyfinClient) { c.log = l }
}

func NewJellyfinClient(baseURL, apiKey string, opts ...JellyfinOption) *JellyfinClient {
	c := &JellyfinClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(DefaultRPS, DefaultRPS),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type itemsResponse struct {
	Items            []jellyfinItem `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

type jellyfinItem struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	Type           string            `json:"Type"`
	MediaType      string            `json:"MediaType"`
	Album          string            `json:"Album"`
	AlbumArtist    string            `json:"AlbumArtist"`
	Artists        []string          `json:"Artists"`
	RunTimeTicks   int64             `json:"RunTimeTicks"`
	IndexNumber    int               `json:"IndexNumber"`
	ParentIndex    int               `json:"ParentIndexNumber"`
	ProductionYear int               `json:"ProductionYear"`
	Container      string            `json:"Container"`
	ChildCount     int               `json:"ChildCount"`
	ImageTags      map[string]string `json:"ImageTags"`
	AlbumID        string            `json:"AlbumId"`
	AlbumImageTag  string            `json:"AlbumPrimaryImageTag"`
	MediaSources   []struct {
		Bitrate int   `json:"Bitrate"`
		Size    int64 `json:"Size"`
	} `json:"MediaSources"`
}

func (c *JellyfinClient) endpoint(path string, query url.Values) string {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *JellyfinClient) doRequest(ctx context.Context, op, requestURL string, target any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Op: op, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("X-Emby-Token", c.APIKey)
	req.Header.Set("Authorization", utils.MediaBrowserAuth(c.APIKey))
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		c.log.Debug("catalog request failed", "op", op, "status", resp.StatusCode, "body", string(body))
		return &Error{Op: op, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *JellyfinClient) Playlists(ctx context.Context) ([]Playlist, error) {
	q := url.Values{}
	q.Set("IncludeItemTypes", "Playlist")
	q.Set("Recursive", "true")
	q.Set("Fields", "ChildCount")
	q.Set("SortBy", "SortName")

	path := "/Items"
	if c.UserID != "" {
		path = "/Users/" + url.PathEscape(c.UserID) + "/Items"
	}

	var resp itemsResponse
	if err := c.doRequest(ctx, "list playlists", c.endpoint(path, q), &resp); err != nil {
		return nil, err
	}

	out := make([]Playlist, 0, len(resp.Items))
	for _, it := range resp.Items {
		p := Playlist{ID: it.ID, Name: it.Name, ItemCount: it.ChildCount}
		if _, ok := it.ImageTags["Primary"]; ok {
			p.ArtworkURL = c.imageURL(it.ID)
		}
		out = append(out, p)
	}
	return out, nil
}

// Items resolves a playlist into its playable entries.
func (c *JellyfinClient) Items(ctx context.Context, playlistID string) ([]MediaItem, error) {
	q := url.Values{}
	if c.UserID != "" {
		q.Set("UserId", c.UserID)
	}
	q.Set("Fields", "MediaSources")

	var resp itemsResponse
	path := "/Playlists/" + url.PathEscape(playlistID) + "/Items"
	if err := c.doRequest(ctx, "list playlist items", c.endpoint(path, q), &resp); err != nil {
		return nil, err
	}

	out := make([]MediaItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		item, ok := c.toMediaItem(it)
		if !ok {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *JellyfinClient) RandomItem(ctx context.Context, playlistID string) (*MediaItem, error) {
	items, err := c.Items(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return PickRandom(items, c.rng), nil
}

func (c *JellyfinClient) toMediaItem(it jellyfinItem) (MediaItem, bool) {
	var kind MediaKind
	switch it.MediaType {
	case "Audio":
		kind = KindAudio
	case "Video":
		kind = KindVideo
	default:
		return MediaItem{}, false
	}

	artist := it.AlbumArtist
	if len(it.Artists) > 0 {
		artist = strings.Join(it.Artists, ", ")
	}

	item := MediaItem{
		ID:        it.ID,
		Name:      it.Name,
		Artist:    artist,
		Album:     it.Album,
		StreamURL: c.streamURL(it.ID, kind),
		Kind:      kind,
		Duration:  time.Duration(it.RunTimeTicks) * tick,
		Track:     it.IndexNumber,
		Disc:      it.ParentIndex,
		Year:      it.ProductionYear,
		Container: it.Container,
	}
	if len(it.MediaSources) > 0 {
		item.Bitrate = it.MediaSources[0].Bitrate
		item.Size = it.MediaSources[0].Size
	}
	switch {
	case it.ImageTags["Primary"] != "":
		item.ArtworkURL = c.imageURL(it.ID)
	case it.AlbumID != "" && it.AlbumImageTag != "":
		item.ArtworkURL = c.imageURL(it.AlbumID)
	}
	return item, true
}

// streamURL asks for the original file so no server-side session is needed.
func (c *JellyfinClient) streamURL(id string, kind MediaKind) string {
	q := url.Values{}
	q.Set("static", "true")
	q.Set("api_key", c.APIKey)
	if kind == KindVideo {
		return c.endpoint("/Videos/"+url.PathEscape(id)+"/stream", q)
	}
	return c.endpoint("/Audio/"+url.PathEscape(id)+"/stream", q)
}

func (c *JellyfinClient) imageURL(id string) string {
	q := url.Values{}
	q.Set("api_key", c.APIKey)
	q.Set("maxWidth", "512")
	return c.endpoint("/Items/"+url.PathEscape(id)+"/Images/Primary", q)
}
