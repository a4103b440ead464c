package slack

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q-forge/questbot/internal/guild"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
)

type stubValidator struct {
	valid bool
	err   error
}

func (v *stubValidator) ValidateUsername(context.Context, string) (bool, error) {
	return v.valid, v.err
}

func newTestCommands(t *testing.T, validator UsernameValidator) (*CommandHandler, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "cmd-test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	guilds := guild.NewService(s, 20, zerolog.Nop())
	return NewCommandHandler(s, guilds, validator, zerolog.Nop()), s
}

func slashCmd(userID, channelID, text string) slack.SlashCommand {
	return slack.SlashCommand{Command: "/quest", UserID: userID, UserName: "frodo.b", ChannelID: channelID, Text: text}
}

func TestHandle_Help(t *testing.T) {
	h, _ := newTestCommands(t, nil)

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", ""))
	assert.False(t, resp.InChannel)
	assert.NotEmpty(t, resp.Blocks)

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "help"))
	assert.NotEmpty(t, resp.Blocks)
}

func TestHandle_Unknown(t *testing.T) {
	h, _ := newTestCommands(t, nil)
	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "dance"))
	assert.Contains(t, resp.Text, "Unknown command")
}

func TestHandle_Register(t *testing.T) {
	h, s := newTestCommands(t, &stubValidator{valid: true})

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "register frodo"))
	assert.Contains(t, resp.Text, "Welcome")

	p, err := s.FindPlayerBySlackID("U1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "frodo", p.Key)
	assert.False(t, p.AutoCreated)
}

func TestHandle_RegisterUnknownUsername(t *testing.T) {
	h, _ := newTestCommands(t, &stubValidator{valid: false})

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "register nobody"))
	assert.Contains(t, resp.Text, "No JIRA user")
}

func TestHandle_RegisterClaimsExistingAutoCreated(t *testing.T) {
	h, s := newTestCommands(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo", XP: 100, AutoCreated: true}))

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "register frodo"))
	assert.Contains(t, resp.Text, "Welcome")

	p, err := s.GetPlayer("frodo")
	require.NoError(t, err)
	assert.Equal(t, "U1", p.SlackUserID)
	assert.Equal(t, 100, p.XP) // accrued XP survives registration
}

func TestHandle_RegisterAlreadyClaimed(t *testing.T) {
	h, s := newTestCommands(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo"}))
	require.NoError(t, s.BindSlackUser("frodo", "U9", ""))

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "register frodo"))
	assert.Contains(t, resp.Text, "already claimed")
}

func TestHandle_Status(t *testing.T) {
	h, s := newTestCommands(t, nil)

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "status"))
	assert.Contains(t, resp.Text, "not registered")

	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo", CurrentTitle: "Novice Adventurer"}))
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "status"))
	assert.NotEmpty(t, resp.Blocks)
}

func TestHandle_Leaderboard(t *testing.T) {
	h, s := newTestCommands(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo", XP: 100}))

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "leaderboard"))
	assert.True(t, resp.InChannel)
	assert.NotEmpty(t, resp.Blocks)
}

func TestHandle_GuildLifecycle(t *testing.T) {
	h, s := newTestCommands(t, nil)
	for _, key := range []string{"frodo", "sam"} {
		require.NoError(t, s.CreatePlayer(&models.Player{Key: key, DisplayName: key}))
	}
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))
	require.NoError(t, s.BindSlackUser("sam", "U2", ""))

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "guild create Fellowship UI,API frontend"))
	assert.True(t, resp.InChannel)
	assert.Contains(t, resp.Text, "Fellowship")

	g, err := s.GetGuildByName("Fellowship")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, []string{"UI", "API"}, g.Components)
	assert.Equal(t, []string{"frontend"}, g.Labels)
	assert.Equal(t, "C1", g.ChannelID)

	resp = h.Handle(context.Background(), slashCmd("U2", "C1", "guild join Fellowship"))
	assert.True(t, resp.InChannel)

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild info Fellowship"))
	assert.NotEmpty(t, resp.Blocks)

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild list"))
	assert.Contains(t, resp.Text, "Fellowship")

	// Leader cannot leave with members present.
	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild leave Fellowship"))
	assert.Contains(t, resp.Text, "Transfer leadership")

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild transfer Fellowship sam"))
	assert.True(t, resp.InChannel)

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild leave Fellowship"))
	assert.Contains(t, resp.Text, "left guild")
}

func TestHandle_GuildCreateFromDM(t *testing.T) {
	h, s := newTestCommands(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "frodo"}))
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))

	resp := h.Handle(context.Background(), slashCmd("U1", "D123", "guild create Fellowship"))
	assert.Contains(t, resp.Text, "from the channel")
}

type stubChannelChecker struct{ exists bool }

func (c *stubChannelChecker) ChannelExists(string) bool { return c.exists }

func TestHandle_GuildCreateUnknownChannel(t *testing.T) {
	h, s := newTestCommands(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "frodo"}))
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))
	h.SetChannelChecker(&stubChannelChecker{exists: false})

	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "guild create Fellowship"))
	assert.Contains(t, resp.Text, "can't see this channel")

	h.SetChannelChecker(&stubChannelChecker{exists: true})
	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild create Fellowship"))
	assert.True(t, resp.InChannel)
}

func TestHandle_GuildRequiresRegistration(t *testing.T) {
	h, _ := newTestCommands(t, nil)
	resp := h.Handle(context.Background(), slashCmd("U1", "C1", "guild join Fellowship"))
	assert.Contains(t, resp.Text, "Register first")
}

func TestHandle_GuildKick(t *testing.T) {
	h, s := newTestCommands(t, nil)
	for _, key := range []string{"frodo", "sam"} {
		require.NoError(t, s.CreatePlayer(&models.Player{Key: key, DisplayName: key}))
	}
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))
	require.NoError(t, s.BindSlackUser("sam", "U2", ""))

	h.Handle(context.Background(), slashCmd("U1", "C1", "guild create Fellowship"))
	h.Handle(context.Background(), slashCmd("U2", "C1", "guild join Fellowship"))

	// Non-leader cannot kick.
	resp := h.Handle(context.Background(), slashCmd("U2", "C1", "guild kick Fellowship frodo"))
	assert.Contains(t, resp.Text, "Only the guild leader")

	resp = h.Handle(context.Background(), slashCmd("U1", "C1", "guild kick Fellowship sam"))
	assert.Contains(t, resp.Text, "removed")

	g, err := s.GetGuildByName("Fellowship")
	require.NoError(t, err)
	assert.Len(t, g.Members, 1)
}
