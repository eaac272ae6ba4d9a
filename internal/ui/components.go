package ui

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
	"github.com/sonroyaalmerol/jellyradio/internal/utils"
)

const (
	PlaylistSelectID = "playlist_select"

	ButtonPause  = "ctl_pause"
	ButtonResume = "ctl_resume"
	ButtonSkip   = "ctl_skip"
	ButtonStop   = "ctl_stop"
)

// Discord caps a select menu at 25 options.
const maxSelectOptions = 25

// PlaylistSelect builds the /play menu. Playlists past the option limit are
// left out.
func PlaylistSelect(playlists []catalog.Playlist, selected string) []discordgo.MessageComponent {
	if len(playlists) > maxSelectOptions {
		playlists = playlists[:maxSelectOptions]
	}
	opts := make([]discordgo.SelectMenuOption, 0, len(playlists))
	for _, p := range playlists {
		opts = append(opts, discordgo.SelectMenuOption{
			Label:       utils.Truncate(p.Name, 100),
			Value:       p.ID,
			Description: itemCount(p.ItemCount),
			Default:     p.ID == selected,
		})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID:    PlaylistSelectID,
					Placeholder: "Select a playlist to shuffle",
					Options:     opts,
				},
			},
		},
	}
}

// Controls renders the transport buttons under the now-playing card.
func Controls(status player.Status) []discordgo.MessageComponent {
	toggle := discordgo.Button{Label: "Pause", Style: discordgo.SecondaryButton, CustomID: ButtonPause}
	if status == player.StatusPaused {
		toggle = discordgo.Button{Label: "Resume", Style: discordgo.SuccessButton, CustomID: ButtonResume}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				toggle,
				discordgo.Button{Label: "Skip", Style: discordgo.PrimaryButton, CustomID: ButtonSkip},
				discordgo.Button{Label: "Stop", Style: discordgo.DangerButton, CustomID: ButtonStop},
			},
		},
	}
}

// SelectedNotice confirms a playlist choice.
func SelectedNotice(p catalog.Playlist) string {
	return fmt.Sprintf("Shuffling **%s** (%s)", utils.EscapeMd(p.Name), itemCount(p.ItemCount))
}
