package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
	"github.com/sonroyaalmerol/jellyradio/internal/repository"
	"github.com/sonroyaalmerol/jellyradio/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorIdle    = 0x992222
	colorInfo    = 0x00A4DC

	maxDesc = 4096
)

// ArtworkFile is the attachment name the now-playing card points its
// thumbnail at.
const ArtworkFile = "artwork.jpg"

func itemTitle(item *catalog.MediaItem) string {
	if item.Artist == "" {
		return "**" + utils.EscapeMd(item.Name) + "**"
	}
	return fmt.Sprintf("**%s** by %s", utils.EscapeMd(item.Name), utils.EscapeMd(item.Artist))
}

func NothingPlayingEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Nothing Playing",
		Description: "Pick a playlist with /play",
		Color:       colorIdle,
	}
}

// NowPlayingEmbed renders the card for item. withArtwork points the
// thumbnail at an attached ArtworkFile.
func NowPlayingEmbed(item *catalog.MediaItem, status player.Status, withArtwork bool) *discordgo.MessageEmbed {
	if item == nil {
		return NothingPlayingEmbed()
	}

	title, color := "Now Playing", colorPlaying
	if status == player.StatusPaused {
		title, color = "Paused", colorPaused
	}

	var desc strings.Builder
	desc.WriteString(itemTitle(item))
	if item.Album != "" {
		desc.WriteString("\n" + utils.EscapeMd(item.Album))
		if item.Year > 0 {
			fmt.Fprintf(&desc, " (%d)", item.Year)
		}
	}
	fmt.Fprintf(&desc, "\n\n`[ %s ]`", utils.PrettyDuration(item.Duration))

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: desc.String(),
		Color:       color,
	}

	var meta []string
	if item.Container != "" {
		meta = append(meta, strings.ToUpper(item.Container))
	}
	if item.Bitrate > 0 {
		meta = append(meta, fmt.Sprintf("%d kbps", item.Bitrate/1000))
	}
	if item.Size > 0 {
		meta = append(meta, humanize.IBytes(uint64(item.Size)))
	}
	if item.Kind == catalog.KindVideo {
		meta = append(meta, "audio from video")
	}
	if len(meta) > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: strings.Join(meta, " • ")}
	}
	if withArtwork {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: "attachment://" + ArtworkFile}
	}
	return embed
}

func PlaylistsEmbed(playlists []catalog.Playlist) *discordgo.MessageEmbed {
	if len(playlists) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Playlists",
			Description: "No playlists found on the server",
			Color:       colorIdle,
		}
	}
	lines := make([]string, 0, len(playlists))
	for i, p := range playlists {
		lines = append(lines, fmt.Sprintf("`%d.` %s `[ %s ]`", i+1, utils.EscapeMd(p.Name), itemCount(p.ItemCount)))
	}
	return &discordgo.MessageEmbed{
		Title:       "Playlists",
		Description: fitLines(lines),
		Color:       colorInfo,
	}
}

func itemCount(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

func HistoryEmbed(entries []repository.HistoryEntry, now time.Time) *discordgo.MessageEmbed {
	if len(entries) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Recently Played",
			Description: "Nothing has been played yet",
			Color:       colorIdle,
		}
	}
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		name := utils.EscapeMd(e.Name)
		if e.Artist != "" {
			name += " - " + utils.EscapeMd(e.Artist)
		}
		lines = append(lines, fmt.Sprintf("`%d.` %s `[ %s ]` %s",
			i+1, name, utils.PrettyDuration(e.Duration), humanize.RelTime(e.PlayedAt, now, "ago", "from now")))
	}
	return &discordgo.MessageEmbed{
		Title:       "Recently Played",
		Description: fitLines(lines),
		Color:       colorInfo,
	}
}

func SettingsEmbed(s repository.Settings) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Settings",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Leave if no listeners", Value: yesNo(s.LeaveIfNoListeners), Inline: true},
			{Name: "Announce now playing", Value: yesNo(s.AnnounceNowPlaying), Inline: true},
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// fitLines joins lines until the description limit, noting how many were
// left out.
func fitLines(lines []string) string {
	var b strings.Builder
	shown := 0
	for _, line := range lines {
		if b.Len()+len(line)+1 > maxDesc-32 {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		shown++
	}
	if shown < len(lines) {
		fmt.Fprintf(&b, "…and %d more", len(lines)-shown)
	}
	return strings.TrimRight(b.String(), "\n")
}
