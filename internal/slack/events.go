package slack

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/q-forge/questbot/internal/jira"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
	"github.com/q-forge/questbot/internal/story"
)

// ChatModel is the conversational text model used for DM replies.
type ChatModel interface {
	Generate(ctx context.Context, model, prompt string, opts story.ModelOptions) (string, error)
}

// IssueSearcher queries the tracker for recently resolved issues. Used when
// the local story archive has nothing for a player.
type IssueSearcher interface {
	SearchDoneIssues(ctx context.Context, maxResults int) (*jira.SearchResult, error)
}

// dedupeSet suppresses redelivered chat events within a window. Process
// local and best-effort; the durable idempotence lives in the story store.
type dedupeSet struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

func newDedupeSet(window time.Duration) *dedupeSet {
	return &dedupeSet{seen: make(map[string]time.Time), window: window}
}

// observe records the key and reports whether it was already seen inside
// the window. Expired entries are swept on each call.
func (d *dedupeSet) observe(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}

// intent is the coarse parse of a DM question.
type intent struct {
	count  int
	status string // "", "Done" or "In Progress"
}

var countRe = regexp.MustCompile(`\b(\d{1,2})\b`)

func parseIntent(text string) intent {
	in := intent{count: 3}
	lower := strings.ToLower(text)

	if m := countRe.FindString(lower); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 && n <= 20 {
			in.count = n
		}
	}
	switch {
	case strings.Contains(lower, "progress") || strings.Contains(lower, "working") || strings.Contains(lower, "current"):
		in.status = "In Progress"
	case strings.Contains(lower, "done") || strings.Contains(lower, "complete") || strings.Contains(lower, "finish"):
		in.status = "Done"
	}
	return in
}

// Responder answers direct messages about a player's quest history. It
// reads from the story store first so every answer is consistent with what
// was posted to the channels.
type Responder struct {
	store     *store.Store
	client    *Client
	model     ChatModel
	modelName string
	opts      story.ModelOptions
	tracker   IssueSearcher
	dedupe    *dedupeSet
	logger    zerolog.Logger
}

// NewResponder creates the DM responder. model may be nil; replies then use
// the plain story recap without conversational framing.
func NewResponder(s *store.Store, client *Client, model ChatModel, modelName string, opts story.ModelOptions, dedupeWindow time.Duration, logger zerolog.Logger) *Responder {
	return &Responder{
		store:     s,
		client:    client,
		model:     model,
		modelName: modelName,
		opts:      opts,
		dedupe:    newDedupeSet(dedupeWindow),
		logger:    logger.With().Str("component", "slack.responder").Logger(),
	}
}

// SetTracker enables the tracker fallback for players with no stored
// stories yet.
func (r *Responder) SetTracker(t IssueSearcher) { r.tracker = t }

// HandleMessage answers one inbound DM. Duplicate deliveries of the same
// message (userID-messageTs) inside the dedupe window are dropped.
func (r *Responder) HandleMessage(ctx context.Context, userID, channelID, text, messageTS string) {
	if r.dedupe.observe(userID + "-" + messageTS) {
		r.logger.Debug().Str("user", userID).Str("ts", messageTS).Msg("duplicate message suppressed")
		return
	}

	p, err := r.store.FindPlayerBySlackID(userID)
	if err != nil {
		r.logger.Error().Err(err).Str("user", userID).Msg("player lookup failed")
		return
	}
	if p == nil {
		r.reply(channelID, "I don't know you yet, wanderer. Run `/quest register <jira-username>` and your legend begins.")
		return
	}

	in := parseIntent(text)
	stories, err := r.store.GetStoriesByPlayer(p.Key, in.count)
	if err != nil {
		r.logger.Error().Err(err).Str("player", p.Key).Msg("story lookup failed")
		r.reply(channelID, "The archives are unreachable right now. Try again in a moment.")
		return
	}
	if in.status != "" {
		stories = filterByStatus(stories, in.status)
	}
	if len(stories) == 0 {
		if recap, ok := r.trackerRecap(ctx, p, in.count); ok {
			r.reply(channelID, recap)
			return
		}
		r.reply(channelID, fmt.Sprintf("No quest stories on record yet, *%s*. Move a ticket and the bard will sing.", p.DisplayName))
		return
	}

	recap := buildRecap(p, stories)
	if r.model == nil {
		r.reply(channelID, recap)
		return
	}

	answer, err := r.model.Generate(ctx, r.modelName, conversationPrompt(p, text, recap), r.opts)
	if err != nil || strings.TrimSpace(answer) == "" {
		r.logger.Warn().Err(err).Msg("chat model failed, replying with recap")
		r.reply(channelID, recap)
		return
	}
	r.reply(channelID, strings.TrimSpace(answer))
}

// trackerRecap lists recently resolved tracker issues when the archive has
// no stories for the player yet. Best effort; any failure falls through to
// the plain no-stories reply.
func (r *Responder) trackerRecap(ctx context.Context, p *models.Player, count int) (string, bool) {
	if r.tracker == nil {
		return "", false
	}
	res, err := r.tracker.SearchDoneIssues(ctx, count)
	if err != nil || len(res.Issues) == 0 {
		if err != nil {
			r.logger.Warn().Err(err).Str("player", p.Key).Msg("tracker search failed")
		}
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The bard has not sung of you yet, *%s*, but the tracker remembers these victories:\n\n", p.DisplayName)
	for _, iss := range res.Issues {
		fmt.Fprintf(&b, "🎫 %s · %s\n", iss.Key, iss.Fields.Summary)
	}
	return strings.TrimSpace(b.String()), true
}

func filterByStatus(stories []*models.Story, status string) []*models.Story {
	var out []*models.Story
	for _, st := range stories {
		if strings.EqualFold(st.Status, status) {
			out = append(out, st)
		}
	}
	return out
}

func buildRecap(p *models.Player, stories []*models.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 *%s* — Level %d %s, %d XP\n\n", p.DisplayName, p.Level, p.CurrentTitle, p.XP)
	for _, st := range stories {
		fmt.Fprintf(&b, "%s\n🎫 %s · %s · +%d XP\n\n", st.Narrative, st.IssueKey, st.Status, st.Award.Points)
	}
	return strings.TrimSpace(b.String())
}

func conversationPrompt(p *models.Player, question, recap string) string {
	var b strings.Builder
	b.WriteString("You are the guild's tavern keeper, chatting with an adventurer about their quests. ")
	b.WriteString("Answer the question below using only the quest log. Keep it short, warm and in character. ")
	b.WriteString("Include the ticket keys you mention.\n\n")
	fmt.Fprintf(&b, "Adventurer: %s\n", p.DisplayName)
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Quest log:\n%s\n", recap)
	return b.String()
}

func (r *Responder) reply(channelID, text string) {
	if err := r.client.PostText(channelID, text); err != nil {
		r.logger.Error().Err(err).Str("channel", channelID).Msg("failed to send reply")
	}
}
