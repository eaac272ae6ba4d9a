// Package catalog resolves playlists on the media server into playable
// items.
package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

type MediaKind int

const (
	KindAudio MediaKind = iota
	KindVideo
)

func (k MediaKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

type Playlist struct {
	ID         string
	Name       string
	ItemCount  int
	ArtworkURL string
}

// MediaItem is a single playable entry. StreamURL can be fetched directly.
type MediaItem struct {
	ID         string
	Name       string
	Artist     string
	Album      string
	StreamURL  string
	ArtworkURL string
	Kind       MediaKind

	Duration  time.Duration
	Track     int
	Disc      int
	Year      int
	Container string
	Bitrate   int
	Size      int64
}

// Catalog is what the play loop needs from the media server. RandomItem
// returns nil, nil when the playlist exists but holds nothing playable.
type Catalog interface {
	Playlists(ctx context.Context) ([]Playlist, error)
	RandomItem(ctx context.Context, playlistID string) (*MediaItem, error)
}

// Error is returned when the catalog could not be read at all.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog %s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PickRandom selects one item uniformly. A nil rng uses the global source.
func PickRandom(items []MediaItem, rng *rand.Rand) *MediaItem {
	if len(items) == 0 {
		return nil
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(items))
	} else {
		i = rand.IntN(len(items))
	}
	item := items[i]
	return &item
}
