package utils

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMd(t *testing.T) {
	assert.Equal(t, `\*bold\* \_it\_ \`+"`"+`code\`+"`"+` a\|b`, EscapeMd("*bold* _it_ `code` a|b"))
}

func TestPrettyTime(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{0, "0:00"},
		{59, "0:59"},
		{61, "1:01"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PrettyTime(tt.sec))
	}
}

func TestPrettyDuration(t *testing.T) {
	assert.Equal(t, "?", PrettyDuration(0))
	assert.Equal(t, "3:25", PrettyDuration(204600*time.Millisecond))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "ä", Truncate("äöü", 1))
}

func TestMediaBrowserAuth(t *testing.T) {
	h := MediaBrowserAuth("tok")
	assert.True(t, strings.HasPrefix(h, `MediaBrowser Client="jellyradio", Device="`))
	assert.Contains(t, h, `Token="tok"`)
	assert.Contains(t, h, `Version="`+Version+`"`)

	assert.NotContains(t, MediaBrowserAuth(""), "Token=")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "jellyradio/"+Version, UserAgent())
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("http://jf.local/Audio/x/stream?static=true&api_key=SECRET123")
	assert.NotContains(t, got, "SECRET123")
	assert.Contains(t, got, "static=true")
	assert.Contains(t, got, "/Audio/x/stream")

	assert.NotContains(t, RedactURL("http://u:pw@jf.local/?ApiKey=abc"), "abc")
	assert.NotContains(t, RedactURL("http://u:pw@jf.local/"), "pw")
	assert.Equal(t, "http://jf.local/Items", RedactURL("http://jf.local/Items"))
}

func TestRedactError(t *testing.T) {
	err := fmt.Errorf("open: %w", &url.Error{Op: "Get", URL: "http://jf.local/?api_key=SECRET123", Err: errors.New("refused")})
	assert.NotContains(t, RedactError(err).Error(), "SECRET123")
	assert.Nil(t, RedactError(nil))
}
