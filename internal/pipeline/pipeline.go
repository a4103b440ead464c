// Package pipeline drives one webhook event through the full quest flow:
// identity resolution, XP award, guild matching, narrative persistence and
// delivery. Each stage degrades rather than aborts; only the work that
// depends on a failed stage is skipped.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	slackgo "github.com/slack-go/slack"

	"github.com/q-forge/questbot/internal/guild"
	"github.com/q-forge/questbot/internal/jira"
	"github.com/q-forge/questbot/internal/metrics"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/player"
	"github.com/q-forge/questbot/internal/requestid"
	"github.com/q-forge/questbot/internal/retry"
	slackbot "github.com/q-forge/questbot/internal/slack"
	"github.com/q-forge/questbot/internal/store"
	"github.com/q-forge/questbot/internal/story"
	"github.com/q-forge/questbot/internal/xp"
)

// Routes and skip reasons recorded on each outcome.
const (
	RouteTeam = "team"
	RouteDM   = "dm"
	RouteSkip = "skip"

	ReasonNoAward           = "no_award"
	ReasonNoGuildMembership = "no_guild_membership"
	ReasonDMFallback        = "dm_fallback"
	ReasonDuplicateStory    = "duplicate_story"
	ReasonNoSlackBinding    = "no_slack_binding"
	ReasonDeliveryFailed    = "delivery_failed"
)

// Deliverer is the outbound chat surface the pipeline posts to.
type Deliverer interface {
	PostBlocks(channelID string, blocks []slackgo.Block) error
	DMBlocks(userID string, blocks []slackgo.Block) error
}

// HomeRefresher updates a player's dashboard after a pipeline run.
type HomeRefresher interface {
	RefreshPlayer(p *models.Player)
}

// NarrativeGenerator produces the story text for a snapshot and award.
type NarrativeGenerator interface {
	Generate(ctx context.Context, snap models.TicketSnapshot, award models.XPAward) story.Result
}

// TicketLinker renders a browse URL for an issue key. May be nil.
type TicketLinker interface {
	TicketURL(key string) string
}

// Outcome summarizes one pipeline run for logging and tests.
type Outcome struct {
	PlayerKey        string
	PlayerCreated    bool
	Points           int
	NewXP            int
	LevelUp          *models.LevelUp
	StoryID          int64
	StoryReused      bool
	Route            string
	Reason           string
	MatchedGuilds    int
	DeliveredChannels int
}

// Pipeline wires the stages together.
type Pipeline struct {
	store     *store.Store
	resolver  *player.Resolver
	guilds    *guild.Service
	generator NarrativeGenerator
	deliverer Deliverer
	home      HomeRefresher
	linker    TicketLinker
	metrics   *metrics.Metrics
	chatRetry retry.Policy
	logger    zerolog.Logger
}

// New creates a pipeline. deliverer, home and linker may be nil; the
// corresponding stages become no-ops (useful when Slack is not configured).
func New(s *store.Store, resolver *player.Resolver, guilds *guild.Service, generator NarrativeGenerator,
	deliverer Deliverer, home HomeRefresher, linker TicketLinker, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     s,
		resolver:  resolver,
		guilds:    guilds,
		generator: generator,
		deliverer: deliverer,
		home:      home,
		linker:    linker,
		metrics:   m,
		chatRetry: retry.Chat(),
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs one normalized event through the pipeline. It never returns
// an error: every failure after ingress degrades to a recorded outcome.
func (p *Pipeline) Process(ctx context.Context, ev *models.IssueEvent) Outcome {
	start := time.Now()
	defer func() {
		p.metrics.ObservePipeline(time.Since(start).Seconds())
	}()

	log := p.logger.With().Str("issue", ev.IssueKey).Str("to_status", ev.ToStatus).Logger()
	if id := requestid.FromContext(ctx); id != "" {
		log = log.With().Str("request_id", id).Logger()
	}

	award := xp.ComputeAward(ev)
	if award.Points == 0 {
		log.Debug().Msg("event carries no award")
		p.metrics.RecordEvent(ev.Kind, "no_award")
		return Outcome{Route: RouteSkip, Reason: ReasonNoAward}
	}

	actor := ev.Assignee
	if actor.Empty() {
		actor = ev.Reporter
	}
	pl, created, err := p.resolver.Resolve(actor)
	if err != nil {
		log.Error().Err(err).Msg("player resolution failed")
		p.metrics.RecordError("pipeline", "resolve")
		p.metrics.RecordEvent(ev.Kind, "failed")
		return Outcome{Route: RouteSkip, Reason: "resolve_failed"}
	}
	out := Outcome{PlayerKey: pl.Key, PlayerCreated: created, Points: award.Points}

	// XP commits before any narrative is generated so the story always
	// embeds the awarded points.
	ticketInc, bugInc := 0, 0
	if award.Completion {
		ticketInc = 1
	}
	if award.Completion && award.Bug {
		bugInc = 1
	}
	oldXP, newXP, err := p.store.ApplyAward(pl.Key, award.Points, ticketInc, bugInc)
	if err != nil {
		log.Error().Err(err).Msg("xp award failed")
		p.metrics.RecordError("pipeline", "award")
		p.metrics.RecordEvent(ev.Kind, "failed")
		return out
	}
	out.NewXP = newXP
	p.metrics.RecordXP(award.Points)

	levelUp := xp.MakeLevelUp(oldXP, newXP)
	newLevel := xp.LevelFor(newXP)
	if err := p.store.SetPlayerRank(pl.Key, newLevel, xp.TitleFor(newLevel)); err != nil {
		log.Warn().Err(err).Msg("rank update failed")
	}
	if levelUp != nil {
		out.LevelUp = levelUp
		p.metrics.LevelUpsTotal.Inc()
		log.Info().Int("old_level", levelUp.OldLevel).Int("new_level", levelUp.NewLevel).Msg("level up")
	}

	// Refresh the in-memory player so rendering shows post-award state.
	pl.XP = newXP
	pl.Level = newLevel
	pl.CurrentTitle = xp.TitleFor(newLevel)
	pl.TotalTickets += ticketInc
	pl.TotalBugs += bugInc

	p.deliver(ctx, log, ev, pl, award, levelUp, &out)

	if p.home != nil {
		p.home.RefreshPlayer(pl)
	}
	p.metrics.RecordEvent(ev.Kind, "accepted")

	log.Info().
		Str("player", pl.Key).
		Int("points", award.Points).
		Str("route", out.Route).
		Str("reason", out.Reason).
		Msg("event processed")
	return out
}

// deliver runs guild matching, story persist-or-fetch and the routing
// policy. Failures are recorded on the outcome; nothing propagates.
func (p *Pipeline) deliver(ctx context.Context, log zerolog.Logger, ev *models.IssueEvent,
	pl *models.Player, award models.XPAward, levelUp *models.LevelUp, out *Outcome) {

	st, reused := p.persistOrFetch(ctx, ev, pl, award)
	if st == nil {
		out.Route, out.Reason = RouteSkip, "story_persist_failed"
		return
	}
	out.StoryID = st.ID
	out.StoryReused = reused
	if reused {
		// The narrative already went out once; suppress the re-post.
		out.Route, out.Reason = RouteSkip, ReasonDuplicateStory
		p.metrics.RecordDelivery(RouteSkip, ReasonDuplicateStory)
		return
	}

	// The story is on record before any routing decision, so guildless
	// players still accrue history for their dashboard.
	if len(pl.GuildIDs) == 0 {
		out.Route, out.Reason = RouteSkip, ReasonNoGuildMembership
		p.metrics.RecordDelivery(RouteSkip, ReasonNoGuildMembership)
		return
	}

	allGuilds, err := p.store.ListActiveGuilds()
	if err != nil {
		log.Error().Err(err).Msg("guild listing failed")
		p.metrics.RecordError("pipeline", "guilds")
		out.Route, out.Reason = RouteSkip, "guild_lookup_failed"
		return
	}
	matched := guild.Match(allGuilds, ev, pl.Key)
	out.MatchedGuilds = len(matched)

	post := slackbot.StoryPost{Player: pl, Story: st, LevelUp: levelUp}
	if p.linker != nil {
		post.TicketURL = p.linker.TicketURL(ev.IssueKey)
	}

	if len(matched) == 0 {
		p.deliverDM(ctx, log, pl, post, out)
		return
	}
	p.deliverTeam(ctx, log, pl, matched, post, award, st, out)
}

// persistOrFetch returns the stored story for this (player, issue, status)
// key, generating and saving a new one when absent. reused is true when a
// prior row existed.
func (p *Pipeline) persistOrFetch(ctx context.Context, ev *models.IssueEvent, pl *models.Player, award models.XPAward) (*models.Story, bool) {
	existing, err := p.store.GetStoryByTicketAndStatus(pl.Key, ev.IssueKey, ev.ToStatus)
	if err != nil {
		p.logger.Error().Err(err).Msg("story lookup failed")
		p.metrics.RecordError("pipeline", "story_lookup")
		return nil, false
	}
	if existing != nil {
		p.metrics.RecordStory("cached")
		return existing, true
	}

	snap := jira.Snapshot(ev)
	res := p.generator.Generate(ctx, snap, award)
	if res.Fallback {
		p.metrics.RecordStory("fallback")
	} else {
		p.metrics.RecordStory("generated")
	}

	st := &models.Story{
		PlayerKey:   pl.Key,
		IssueKey:    ev.IssueKey,
		Status:      ev.ToStatus,
		Narrative:   res.Narrative,
		Loot:        res.Loot,
		Achievement: res.Achievement,
		Snapshot:    snap,
		Award:       award,
	}
	id, existed, err := p.store.SaveStory(st)
	if err != nil {
		p.logger.Error().Err(err).Msg("story save failed")
		p.metrics.RecordError("pipeline", "story_save")
		return nil, false
	}
	if existed {
		// Lost a race with a concurrent duplicate; treat as reuse.
		stored, err := p.store.GetStoryByTicketAndStatus(pl.Key, ev.IssueKey, ev.ToStatus)
		if err == nil && stored != nil {
			return stored, true
		}
		return st, true
	}
	st.ID = id
	return st, false
}

// deliverTeam posts the team story once per unique matched channel. Any
// channel failure triggers one best-effort DM with the personal variant.
func (p *Pipeline) deliverTeam(ctx context.Context, log zerolog.Logger, pl *models.Player,
	matched []*models.Guild, post slackbot.StoryPost, award models.XPAward, st *models.Story, out *Outcome) {

	out.Route = RouteTeam
	if p.deliverer == nil {
		out.Reason = "chat_disabled"
		return
	}

	seen := make(map[string]bool, len(matched))
	var deliveredIDs []int64
	failures := 0
	for _, g := range matched {
		if seen[g.ChannelID] {
			continue
		}
		seen[g.ChannelID] = true

		blocks := slackbot.TeamStoryBlocks(g.Name, post)
		err := p.chatRetry.Do(ctx, func(ctx context.Context) error {
			return p.deliverer.PostBlocks(g.ChannelID, blocks)
		})
		if err != nil {
			log.Warn().Err(err).Str("guild", g.Name).Str("channel", g.ChannelID).Msg("team delivery failed")
			p.metrics.RecordDelivery(RouteTeam, "error")
			failures++
			continue
		}
		deliveredIDs = append(deliveredIDs, g.ID)
		out.DeliveredChannels++
		p.metrics.RecordDelivery(RouteTeam, "ok")
	}

	if len(deliveredIDs) > 0 {
		if err := p.store.MarkDelivered(st.ID, deliveredIDs); err != nil {
			log.Warn().Err(err).Msg("delivery bookkeeping failed")
		}
		if award.Completion {
			p.guilds.RecordCompletion(deliveredIDs)
		}
	}

	if failures > 0 && out.DeliveredChannels == 0 {
		// Every channel post failed; fall back to a direct message.
		out.Reason = ReasonDeliveryFailed
		if pl.SlackUserID != "" {
			if err := p.deliverer.DMBlocks(pl.SlackUserID, slackbot.PersonalStoryBlocks(post)); err != nil {
				log.Warn().Err(err).Msg("fallback DM failed")
				p.metrics.RecordDelivery(RouteDM, "error")
			} else {
				p.metrics.RecordDelivery(RouteDM, "ok")
			}
		}
	}
}

// deliverDM handles the zero-matched-guilds route: the player is in some
// guild but none matches this issue, so the story goes to them directly.
func (p *Pipeline) deliverDM(ctx context.Context, log zerolog.Logger, pl *models.Player, post slackbot.StoryPost, out *Outcome) {
	out.Route, out.Reason = RouteDM, ReasonDMFallback
	if p.deliverer == nil {
		out.Reason = "chat_disabled"
		return
	}
	if pl.SlackUserID == "" {
		out.Route, out.Reason = RouteSkip, ReasonNoSlackBinding
		p.metrics.RecordDelivery(RouteSkip, ReasonNoSlackBinding)
		return
	}

	err := p.chatRetry.Do(ctx, func(ctx context.Context) error {
		return p.deliverer.DMBlocks(pl.SlackUserID, slackbot.PersonalStoryBlocks(post))
	})
	if err != nil {
		log.Warn().Err(err).Str("player", pl.Key).Msg("dm delivery failed")
		p.metrics.RecordDelivery(RouteDM, "error")
		out.Reason = ReasonDeliveryFailed
		return
	}
	p.metrics.RecordDelivery(RouteDM, "ok")
}
