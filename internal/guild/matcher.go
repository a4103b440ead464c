package guild

import (
	"strings"

	"github.com/q-forge/questbot/internal/models"
)

// Match selects the guilds an event should be announced to: the event's
// components or labels must overlap the guild's configured sets, and the
// acting player must be a member. Guilds whose filters match but where the
// player is not a member are excluded so nobody's work is announced to a
// room they never joined.
func Match(guilds []*models.Guild, ev *models.IssueEvent, playerKey string) []*models.Guild {
	var matched []*models.Guild
	for _, g := range guilds {
		if !g.IsActive {
			continue
		}
		if !overlaps(g.Components, ev.Components) && !overlaps(g.Labels, ev.Labels) {
			continue
		}
		if !g.HasMember(playerKey) {
			continue
		}
		matched = append(matched, g)
	}
	return matched
}

// Channels reduces matched guilds to the unique set of Slack channels,
// preserving first-match order. Two guilds can never share a channel, but
// the dedup keeps delivery single-shot even if that invariant regresses.
func Channels(guilds []*models.Guild) []string {
	seen := make(map[string]bool, len(guilds))
	var channels []string
	for _, g := range guilds {
		if g.ChannelID == "" || seen[g.ChannelID] {
			continue
		}
		seen[g.ChannelID] = true
		channels = append(channels, g.ChannelID)
	}
	return channels
}

func overlaps(guildSet, eventSet []string) bool {
	if len(guildSet) == 0 || len(eventSet) == 0 {
		return false
	}
	for _, g := range guildSet {
		for _, e := range eventSet {
			if strings.EqualFold(g, e) {
				return true
			}
		}
	}
	return false
}
