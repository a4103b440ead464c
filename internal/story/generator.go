package story

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/retry"
)

const maxNarrativeLen = 300

// TextGenerator is the slice of ModelClient the generator needs.
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string, opts ModelOptions) (string, error)
}

// Generator produces quest narratives. It never writes to the store; the
// caller owns persistence.
type Generator struct {
	client    TextGenerator
	model     string
	opts      ModelOptions
	templates templateSet
	retries   retry.Policy
	logger    zerolog.Logger
}

// NewGenerator creates a generator. templatesPath optionally points at a
// YAML file overriding the built-in fallback templates; an unreadable file
// logs a warning and keeps the defaults.
func NewGenerator(client TextGenerator, model string, opts ModelOptions, templatesPath string, logger zerolog.Logger) *Generator {
	l := logger.With().Str("component", "story-generator").Logger()
	set, err := loadTemplateSet(templatesPath)
	if err != nil {
		l.Warn().Err(err).Str("path", templatesPath).Msg("falling back to built-in templates")
	}
	return &Generator{
		client:    client,
		model:     model,
		opts:      opts,
		templates: set,
		retries:   retry.Upstream(),
		logger:    l,
	}
}

// Result is a generated narrative plus optional completion rewards.
type Result struct {
	Narrative   string
	Loot        string
	Achievement string
	Fallback    bool
}

// Generate produces a narrative for a ticket snapshot and XP award. Any
// model failure (transport, empty text, bad JSON) degrades to a
// deterministic fallback selected by the assignee name; the pipeline never
// sees an error from narrative generation alone.
func (g *Generator) Generate(ctx context.Context, snap models.TicketSnapshot, award models.XPAward) Result {
	res := Result{}
	if award.Completion {
		res.Loot = pick(g.templates.loot, snap.TicketKey)
		if award.Bug {
			res.Achievement = pick(g.templates.achievements, snap.TicketKey+snap.AssigneeName)
		}
	}

	if g.client != nil {
		prompt := g.buildPrompt(snap, award)
		var text string
		err := g.retries.Do(ctx, func(ctx context.Context) error {
			out, err := g.client.Generate(ctx, g.model, prompt, g.opts)
			text = out
			return err
		})
		if err == nil && strings.TrimSpace(text) != "" {
			res.Narrative = conform(text)
			return res
		}
		g.logger.Warn().Err(err).Str("ticket", snap.TicketKey).Msg("model generation failed, using fallback")
	}

	res.Narrative = g.fallback(snap)
	res.Fallback = true
	return res
}

// fallback renders a deterministic template selected by the assignee name,
// so the same hero always gets a consistent narrator voice.
func (g *Generator) fallback(snap models.TicketSnapshot) string {
	tmpl := pick(g.templates.templates, snap.AssigneeName)
	hero := snap.AssigneeName
	if hero == "" {
		hero = "A nameless hero"
	}
	return conform(fmt.Sprintf(tmpl, hero, snap.TicketKey, snap.Title))
}

func (g *Generator) buildPrompt(snap models.TicketSnapshot, award models.XPAward) string {
	var b strings.Builder
	b.WriteString("You are the bard of a software guild. Write a single short fantasy quest narrative ")
	b.WriteString("(under 300 characters) about the hero and their quest below. ")
	b.WriteString("Start with an emoji, end with excitement, mention the hero by name. ")
	b.WriteString("No preamble, no quotes, just the narrative.\n\n")
	fmt.Fprintf(&b, "Hero: %s\n", snap.AssigneeName)
	fmt.Fprintf(&b, "Quest: %s (%s)\n", snap.Title, snap.TicketKey)
	if snap.Description != "" {
		fmt.Fprintf(&b, "Quest details: %s\n", truncate(snap.Description, 500))
	}
	fmt.Fprintf(&b, "Status: %s\n", snap.Status)
	if snap.IssueType != "" {
		fmt.Fprintf(&b, "Quest type: %s\n", snap.IssueType)
	}
	if snap.Priority != "" {
		fmt.Fprintf(&b, "Danger level: %s\n", snap.Priority)
	}
	if snap.StoryPoints != nil {
		fmt.Fprintf(&b, "Difficulty: %.0f points\n", *snap.StoryPoints)
	}
	fmt.Fprintf(&b, "XP earned: %d\n", award.Points)
	if award.Completion {
		b.WriteString("The quest is complete — make it a victory tale.\n")
	} else {
		b.WriteString("The quest has just begun — make it a departure tale.\n")
	}
	return b.String()
}

// conform forces the shape contract: at most 300 characters, starts with an
// emoji, ends in excitement.
func conform(text string) string {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	text = truncate(text, maxNarrativeLen)

	r, _ := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError || r < 0x2190 {
		text = "⚔️ " + text
		text = truncate(text, maxNarrativeLen)
	}
	if !strings.HasSuffix(text, "!") {
		text = truncate(strings.TrimRight(text, ".?! "), maxNarrativeLen-1) + "!"
	}
	return text
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1])
}
