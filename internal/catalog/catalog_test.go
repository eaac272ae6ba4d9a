package catalog

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickRandomEmpty(t *testing.T) {
	assert.Nil(t, PickRandom(nil, nil))
	assert.Nil(t, PickRandom([]MediaItem{}, rand.New(rand.NewPCG(1, 2))))
}

func TestPickRandomReachesEveryItem(t *testing.T) {
	items := []MediaItem{{ID: "A"}, {ID: "B"}}
	rng := rand.New(rand.NewPCG(42, 7))

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		it := PickRandom(items, rng)
		require.NotNil(t, it)
		seen[it.ID]++
	}
	assert.GreaterOrEqual(t, seen["A"], 1)
	assert.GreaterOrEqual(t, seen["B"], 1)
	assert.Equal(t, 200, seen["A"]+seen["B"])
}

func TestPickRandomReturnsCopy(t *testing.T) {
	items := []MediaItem{{ID: "A", Name: "orig"}}
	it := PickRandom(items, nil)
	it.Name = "changed"
	assert.Equal(t, "orig", items[0].Name)
}

func TestErrorMessages(t *testing.T) {
	e := &Error{Op: "list playlists", Status: 401}
	assert.Equal(t, "catalog list playlists: unexpected status 401", e.Error())

	assert.Equal(t, "video", KindVideo.String())
	assert.Equal(t, "audio", KindAudio.String())
}
