package guild

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/q-forge/questbot/internal/models"
)

func makeGuild(id int64, name, channel string, components, labels []string, members ...string) *models.Guild {
	g := &models.Guild{
		ID:         id,
		Name:       name,
		ChannelID:  channel,
		Components: components,
		Labels:     labels,
		IsActive:   true,
	}
	for _, m := range members {
		g.Members = append(g.Members, models.GuildMember{PlayerKey: m, Role: models.RoleMember})
	}
	return g
}

func TestMatch_ComponentOverlap(t *testing.T) {
	guilds := []*models.Guild{
		makeGuild(1, "Frontend", "C1", []string{"UI", "Web"}, nil, "frodo"),
		makeGuild(2, "Backend", "C2", []string{"API"}, nil, "frodo"),
	}
	ev := &models.IssueEvent{Components: []string{"UI"}}

	matched := Match(guilds, ev, "frodo")
	assert.Len(t, matched, 1)
	assert.Equal(t, "Frontend", matched[0].Name)
}

func TestMatch_LabelOverlap(t *testing.T) {
	guilds := []*models.Guild{
		makeGuild(1, "Bugs", "C1", nil, []string{"bugfix", "hotfix"}, "frodo"),
	}
	ev := &models.IssueEvent{Labels: []string{"hotfix"}}

	assert.Len(t, Match(guilds, ev, "frodo"), 1)
}

func TestMatch_EitherSetSuffices(t *testing.T) {
	g := makeGuild(1, "Mixed", "C1", []string{"UI"}, []string{"frontend"}, "frodo")

	byComponent := &models.IssueEvent{Components: []string{"UI"}, Labels: []string{"unrelated"}}
	assert.Len(t, Match([]*models.Guild{g}, byComponent, "frodo"), 1)

	byLabel := &models.IssueEvent{Components: []string{"API"}, Labels: []string{"frontend"}}
	assert.Len(t, Match([]*models.Guild{g}, byLabel, "frodo"), 1)

	neither := &models.IssueEvent{Components: []string{"API"}, Labels: []string{"backend"}}
	assert.Empty(t, Match([]*models.Guild{g}, neither, "frodo"))
}

func TestMatch_MembershipFilter(t *testing.T) {
	// Guild filters match the event but the actor is not a member.
	g := makeGuild(1, "Frontend", "C1", []string{"UI"}, nil, "sam")
	ev := &models.IssueEvent{Components: []string{"UI"}}

	assert.Empty(t, Match([]*models.Guild{g}, ev, "frodo"))
	assert.Len(t, Match([]*models.Guild{g}, ev, "sam"), 1)
}

func TestMatch_CaseInsensitive(t *testing.T) {
	g := makeGuild(1, "Frontend", "C1", []string{"ui"}, nil, "frodo")
	ev := &models.IssueEvent{Components: []string{"UI"}}

	assert.Len(t, Match([]*models.Guild{g}, ev, "frodo"), 1)
}

func TestMatch_EmptySetsNeverMatch(t *testing.T) {
	g := makeGuild(1, "Empty", "C1", nil, nil, "frodo")
	ev := &models.IssueEvent{Components: []string{"UI"}, Labels: []string{"frontend"}}

	assert.Empty(t, Match([]*models.Guild{g}, ev, "frodo"))
}

func TestMatch_InactiveExcluded(t *testing.T) {
	g := makeGuild(1, "Gone", "C1", []string{"UI"}, nil, "frodo")
	g.IsActive = false
	ev := &models.IssueEvent{Components: []string{"UI"}}

	assert.Empty(t, Match([]*models.Guild{g}, ev, "frodo"))
}

func TestMatch_MultipleGuilds(t *testing.T) {
	guilds := []*models.Guild{
		makeGuild(1, "Frontend", "C1", []string{"UI"}, nil, "frodo"),
		makeGuild(2, "Quality", "C2", nil, []string{"frontend"}, "frodo"),
		makeGuild(3, "Backend", "C3", []string{"API"}, nil, "frodo"),
	}
	ev := &models.IssueEvent{Components: []string{"UI"}, Labels: []string{"frontend"}}

	matched := Match(guilds, ev, "frodo")
	assert.Len(t, matched, 2)
}

func TestChannels_Dedup(t *testing.T) {
	guilds := []*models.Guild{
		makeGuild(1, "A", "C1", nil, nil),
		makeGuild(2, "B", "C2", nil, nil),
		makeGuild(3, "C", "C1", nil, nil),
	}

	assert.Equal(t, []string{"C1", "C2"}, Channels(guilds))
	assert.Empty(t, Channels(nil))
}
