package utils

import (
	"fmt"
	"strings"
	"time"
)

func EscapeMd(s string) string {
	repl := []string{"*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~", "|", "\\|"}
	r := strings.NewReplacer(repl...)
	return r.Replace(s)
}

func PrettyTime(sec int) string {
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// PrettyDuration formats d like PrettyTime; unknown lengths render as "?".
func PrettyDuration(d time.Duration) string {
	if d <= 0 {
		return "?"
	}
	return PrettyTime(int(d.Round(time.Second) / time.Second))
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
