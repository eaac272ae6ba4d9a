package utils

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

const ClientName = "jellyradio"

// Version is overridden at build time with -ldflags.
var Version = "dev"

func UserAgent() string {
	return fmt.Sprintf("%s/%s", ClientName, Version)
}

// MediaBrowserAuth builds the Authorization header value Jellyfin uses to
// identify API clients, e.g.
// MediaBrowser Client="jellyradio", Device="host", DeviceId="...", Token="...", Version="dev".
func MediaBrowserAuth(token string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	fields := map[string]string{
		"Client":   ClientName,
		"Device":   host,
		"DeviceId": ClientName + "-" + host,
		"Version":  Version,
	}
	if token != "" {
		fields["Token"] = token
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		// quotes would end the value early
		v := strings.ReplaceAll(fields[k], `"`, "")
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	return "MediaBrowser " + strings.Join(parts, ", ")
}

var secretParams = []string{"api_key", "apikey", "token", "x-emby-token"}

// RedactURL masks credentials carried in raw's query string and userinfo so
// the URL can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if slices.Contains(secretParams, strings.ToLower(k)) {
				q.Set(k, "REDACTED")
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// RedactError rewrites the URL inside a *url.Error, as returned by
// http.Client.Do, through RedactURL.
func RedactError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = RedactURL(ue.URL)
	}
	return err
}
