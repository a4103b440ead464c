package slack

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q-forge/questbot/internal/jira"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
	"github.com/q-forge/questbot/internal/story"
)

// fakeAPI records outbound Slack calls.
type fakeAPI struct {
	posts      []string // channel ids
	texts      []string
	homeViews  []string // user ids
	postErr    error
	channelErr error
}

func (f *fakeAPI) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.posts = append(f.posts, channelID)
	// Text extraction is not worth unwinding MsgOption; callers assert on channel.
	return channelID, "160000.0001", nil
}

func (f *fakeAPI) OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error) {
	ch := &slackapi.Channel{}
	ch.ID = "D-" + params.Users[0]
	return ch, false, false, nil
}

func (f *fakeAPI) PublishView(userID string, view slackapi.HomeTabViewRequest, hash string) (*slackapi.ViewResponse, error) {
	f.homeViews = append(f.homeViews, userID)
	return nil, nil
}

func (f *fakeAPI) GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return &slackapi.Channel{}, nil
}

func (f *fakeAPI) AuthTest() (*slackapi.AuthTestResponse, error) {
	return &slackapi.AuthTestResponse{UserID: "UBOT"}, nil
}

func TestDedupeSet(t *testing.T) {
	d := newDedupeSet(10 * time.Minute)

	assert.False(t, d.observe("U1-100.1"))
	assert.True(t, d.observe("U1-100.1"))
	assert.False(t, d.observe("U1-100.2"))
	assert.False(t, d.observe("U2-100.1"))
}

func TestDedupeSet_WindowExpiry(t *testing.T) {
	d := newDedupeSet(time.Millisecond)
	assert.False(t, d.observe("U1-100.1"))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, d.observe("U1-100.1"))
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		text string
		want intent
	}{
		{"what did I do", intent{count: 3}},
		{"show my last 5 quests", intent{count: 5}},
		{"what have I finished", intent{count: 3, status: "Done"}},
		{"what am I working on", intent{count: 3, status: "In Progress"}},
		{"2 tickets in progress", intent{count: 2, status: "In Progress"}},
		{"last 99 quests", intent{count: 3}}, // out of range, default
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseIntent(tt.text), "text: %q", tt.text)
	}
}

func newTestResponder(t *testing.T, model ChatModel) (*Responder, *store.Store, *fakeAPI) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "events-test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	api := &fakeAPI{}
	client := NewClientWithAPI(api, zerolog.Nop())
	r := NewResponder(s, client, model, "llama3.1:8b", story.ModelOptions{}, 10*time.Minute, zerolog.Nop())
	return r, s, api
}

func seedPlayerWithStory(t *testing.T, s *store.Store) {
	t.Helper()
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo", CurrentTitle: "Novice Adventurer"}))
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))
	_, _, err := s.SaveStory(&models.Story{
		PlayerKey: "frodo", IssueKey: "PROJ-1", Status: "Done",
		Narrative: "⚔️ A tale!", Award: models.XPAward{Points: 100},
	})
	require.NoError(t, err)
}

func TestResponder_Unregistered(t *testing.T) {
	r, _, api := newTestResponder(t, nil)

	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	require.Len(t, api.posts, 1)
	assert.Equal(t, "D1", api.posts[0])
}

func TestResponder_RecapWithoutModel(t *testing.T) {
	r, s, api := newTestResponder(t, nil)
	seedPlayerWithStory(t, s)

	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	require.Len(t, api.posts, 1)
}

func TestResponder_Dedupe(t *testing.T) {
	r, s, api := newTestResponder(t, nil)
	seedPlayerWithStory(t, s)

	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	assert.Len(t, api.posts, 1)

	// A different message timestamp is a new question.
	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.2")
	assert.Len(t, api.posts, 2)
}

func TestResponder_ModelFailureFallsBackToRecap(t *testing.T) {
	r, s, api := newTestResponder(t, &stubChatModel{err: errors.New("down")})
	seedPlayerWithStory(t, s)

	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	assert.Len(t, api.posts, 1)
}

func TestResponder_StatusFilter(t *testing.T) {
	model := &stubChatModel{text: "🍺 You finished PROJ-1, well done!"}
	r, s, api := newTestResponder(t, model)
	seedPlayerWithStory(t, s)
	_, _, err := s.SaveStory(&models.Story{
		PlayerKey: "frodo", IssueKey: "PROJ-2", Status: "In Progress",
		Narrative: "🏹 Off we go!", Award: models.XPAward{Points: 15},
	})
	require.NoError(t, err)

	r.HandleMessage(context.Background(), "U1", "D1", "what have I finished", "100.1")
	require.Len(t, api.posts, 1)
	assert.Contains(t, model.prompt, "PROJ-1")
	assert.NotContains(t, model.prompt, "PROJ-2")
}

type stubSearcher struct {
	res *jira.SearchResult
	err error
}

func (s *stubSearcher) SearchDoneIssues(_ context.Context, _ int) (*jira.SearchResult, error) {
	return s.res, s.err
}

func TestResponder_TrackerFallbackWhenNoStories(t *testing.T) {
	r, s, api := newTestResponder(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo", CurrentTitle: "Novice Adventurer"}))
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))
	r.SetTracker(&stubSearcher{res: &jira.SearchResult{
		Total:  1,
		Issues: []jira.Issue{{Key: "PROJ-7", Fields: jira.IssueFields{Summary: "Slay the flaky test"}}},
	}})

	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	require.Len(t, api.posts, 1)
}

func TestResponder_TrackerErrorFallsThrough(t *testing.T) {
	r, s, api := newTestResponder(t, nil)
	require.NoError(t, s.CreatePlayer(&models.Player{Key: "frodo", DisplayName: "Frodo", CurrentTitle: "Novice Adventurer"}))
	require.NoError(t, s.BindSlackUser("frodo", "U1", ""))
	r.SetTracker(&stubSearcher{err: errors.New("tracker down")})

	// Still replies with the plain no-stories message.
	r.HandleMessage(context.Background(), "U1", "D1", "what did I do", "100.1")
	require.Len(t, api.posts, 1)
}

type stubChatModel struct {
	text   string
	err    error
	prompt string
}

func (m *stubChatModel) Generate(_ context.Context, _, prompt string, _ story.ModelOptions) (string, error) {
	m.prompt = prompt
	return m.text, m.err
}

func TestClient_DMBlocks(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api, zerolog.Nop())

	require.NoError(t, c.DMBlocks("U1", HelpBlocks()))
	require.Len(t, api.posts, 1)
	assert.Equal(t, "D-U1", api.posts[0])
}

func TestHomeUpdater(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "home-test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	seedPlayerWithStory(t, s)

	api := &fakeAPI{}
	u := NewHomeUpdater(s, NewClientWithAPI(api, zerolog.Nop()), zerolog.Nop())

	u.RefreshUser("U1")
	assert.Equal(t, []string{"U1"}, api.homeViews)

	// Players without a Slack binding are skipped silently.
	u.RefreshPlayer(&models.Player{Key: "ghost"})
	assert.Len(t, api.homeViews, 1)

	// Unknown Slack users get the welcome view.
	u.RefreshUser("U404")
	assert.Len(t, api.homeViews, 2)
}
