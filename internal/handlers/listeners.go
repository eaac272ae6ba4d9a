package handlers

import "github.com/bwmarrin/discordgo"

// listenerCount counts users other than self in channelID. Users isBot
// cannot vouch for are counted as listeners.
func listenerCount(g *discordgo.Guild, channelID, selfID string, isBot func(userID string) bool) int {
	if g == nil || channelID == "" {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == selfID {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil {
			if !vs.Member.User.Bot {
				n++
			}
			continue
		}
		if isBot == nil || !isBot(vs.UserID) {
			n++
		}
	}
	return n
}

func stateIsBot(s *discordgo.Session, guildID string) func(string) bool {
	return func(userID string) bool {
		m, _ := s.State.Member(guildID, userID)
		return m != nil && m.User != nil && m.User.Bot
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		g, _ = s.Guild(guildID)
	}
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}
