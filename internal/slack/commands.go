package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	qerrors "github.com/q-forge/questbot/internal/errors"
	"github.com/q-forge/questbot/internal/guild"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
)

// UsernameValidator checks a tracker username exists before registration.
type UsernameValidator interface {
	ValidateUsername(ctx context.Context, username string) (bool, error)
}

// ChannelChecker verifies a channel id resolves in the workspace (and that
// the bot can see it).
type ChannelChecker interface {
	ChannelExists(channelID string) bool
}

// Response is a slash-command reply. InChannel responses are visible to the
// whole channel; everything else is ephemeral to the caller.
type Response struct {
	Text      string
	Blocks    []slack.Block
	InChannel bool
}

func ephemeral(text string) Response        { return Response{Text: text} }
func ephemeralBlocks(b []slack.Block) Response { return Response{Blocks: b} }

// CommandHandler parses and executes /quest slash commands.
type CommandHandler struct {
	store     *store.Store
	guilds    *guild.Service
	validator UsernameValidator
	channels  ChannelChecker
	logger    zerolog.Logger
}

// NewCommandHandler creates the slash-command handler. validator may be nil
// when the tracker API is not configured; registration then skips the
// existence check.
func NewCommandHandler(s *store.Store, guilds *guild.Service, validator UsernameValidator, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		store:     s,
		guilds:    guilds,
		validator: validator,
		logger:    logger.With().Str("component", "slack.commands").Logger(),
	}
}

// SetChannelChecker enables channel validation on guild creation.
func (h *CommandHandler) SetChannelChecker(c ChannelChecker) { h.channels = c }

// Handle executes one slash command and returns the reply.
func (h *CommandHandler) Handle(ctx context.Context, cmd slack.SlashCommand) Response {
	args := strings.Fields(cmd.Text)
	sub := "help"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
		args = args[1:]
	}

	h.logger.Info().
		Str("user", cmd.UserID).
		Str("subcommand", sub).
		Msg("slash command")

	switch sub {
	case "help":
		return ephemeralBlocks(HelpBlocks())
	case "status":
		return h.status(cmd.UserID)
	case "register":
		return h.register(ctx, cmd, args)
	case "register-email":
		return h.registerEmail(cmd, args)
	case "achievements":
		return h.achievements(cmd.UserID)
	case "leaderboard":
		return h.leaderboard()
	case "guild":
		return h.guildCommand(cmd, args)
	default:
		return ephemeral(fmt.Sprintf("Unknown command `%s`. Try `/quest help`.", sub))
	}
}

func (h *CommandHandler) playerFor(slackUserID string) (*models.Player, error) {
	return h.store.FindPlayerBySlackID(slackUserID)
}

func (h *CommandHandler) status(slackUserID string) Response {
	p, err := h.playerFor(slackUserID)
	if err != nil {
		return h.internalError(err)
	}
	if p == nil {
		return ephemeral("You are not registered yet. Run `/quest register <jira-username>`.")
	}
	return ephemeralBlocks(StatusBlocks(p))
}

func (h *CommandHandler) register(ctx context.Context, cmd slack.SlashCommand, args []string) Response {
	if len(args) != 1 {
		return ephemeral("Usage: `/quest register <jira-username>`")
	}
	username := args[0]

	if h.validator != nil {
		ok, err := h.validator.ValidateUsername(ctx, username)
		if err != nil {
			h.logger.Warn().Err(err).Str("username", username).Msg("username validation unavailable")
		} else if !ok {
			return ephemeral(fmt.Sprintf("No JIRA user named `%s` found. Check the spelling.", username))
		}
	}

	existing, err := h.store.GetPlayer(username)
	if err != nil {
		return h.internalError(err)
	}
	if existing == nil {
		p := &models.Player{Key: username, DisplayName: username, Level: 1, CurrentTitle: "Novice Adventurer"}
		if err := h.store.CreatePlayer(p); err != nil {
			return h.internalError(err)
		}
	} else if existing.SlackUserID != "" && existing.SlackUserID != cmd.UserID {
		return ephemeral(fmt.Sprintf("`%s` is already claimed by another Slack user.", username))
	}

	if err := h.store.BindSlackUser(username, cmd.UserID, cmd.UserName); err != nil {
		return h.internalError(err)
	}
	return ephemeral(fmt.Sprintf("⚔️ Welcome to the adventure, *%s*! Your quest log is now bound to this Slack account.", username))
}

func (h *CommandHandler) registerEmail(cmd slack.SlashCommand, args []string) Response {
	if len(args) != 1 || !strings.Contains(args[0], "@") {
		return ephemeral("Usage: `/quest register-email <email>`")
	}
	p, err := h.store.FindPlayerByEmail(args[0])
	if err != nil {
		return h.internalError(err)
	}
	if p == nil {
		return ephemeral(fmt.Sprintf("No player with email `%s` yet. Complete a ticket first, or use `/quest register <jira-username>`.", args[0]))
	}
	if p.SlackUserID != "" && p.SlackUserID != cmd.UserID {
		return ephemeral("That email is already claimed by another Slack user.")
	}
	if err := h.store.BindSlackUser(p.Key, cmd.UserID, cmd.UserName); err != nil {
		return h.internalError(err)
	}
	return ephemeral(fmt.Sprintf("⚔️ Linked! You are *%s*, Level %d %s.", p.DisplayName, p.Level, p.CurrentTitle))
}

func (h *CommandHandler) achievements(slackUserID string) Response {
	p, err := h.playerFor(slackUserID)
	if err != nil {
		return h.internalError(err)
	}
	if p == nil {
		return ephemeral("You are not registered yet. Run `/quest register <jira-username>`.")
	}
	stories, err := h.store.GetStoriesByPlayer(p.Key, 5)
	if err != nil {
		return h.internalError(err)
	}
	if len(stories) == 0 {
		return ephemeral("No quest stories yet. Move a ticket and the bard will sing.")
	}

	blocks := []slack.Block{slack.NewHeaderBlock(plain("📖 Your Recent Quests"))}
	for _, st := range stories {
		blocks = append(blocks,
			slack.NewSectionBlock(mrkdwn(st.Narrative), nil, nil),
			slack.NewContextBlock("", mrkdwn(fmt.Sprintf("🎫 %s · %s · +%d XP", st.IssueKey, st.Status, st.Award.Points))),
		)
	}
	return ephemeralBlocks(blocks)
}

func (h *CommandHandler) leaderboard() Response {
	players, err := h.store.ListTopPlayers(10)
	if err != nil {
		return h.internalError(err)
	}
	return Response{Blocks: LeaderboardBlocks(players), InChannel: true}
}

func (h *CommandHandler) guildCommand(cmd slack.SlashCommand, args []string) Response {
	if len(args) == 0 {
		return ephemeral("Usage: `/quest guild <list|create|join|leave|info|stats|rename|transfer> ...`")
	}
	action := strings.ToLower(args[0])
	args = args[1:]

	if action == "list" {
		return h.guildList()
	}

	p, err := h.playerFor(cmd.UserID)
	if err != nil {
		return h.internalError(err)
	}
	if p == nil {
		return ephemeral("Register first: `/quest register <jira-username>`.")
	}

	switch action {
	case "create":
		return h.guildCreate(cmd, p, args)
	case "join":
		return h.guildNameAction(args, func(name string) Response {
			if _, err := h.guilds.Join(name, p.Key); err != nil {
				return h.guildError(err, name)
			}
			return Response{Text: fmt.Sprintf("🏰 *%s* joined guild *%s*!", p.DisplayName, name), InChannel: true}
		})
	case "leave":
		return h.guildNameAction(args, func(name string) Response {
			if err := h.guilds.Leave(name, p.Key); err != nil {
				return h.guildError(err, name)
			}
			return ephemeral(fmt.Sprintf("You left guild *%s*.", name))
		})
	case "info", "stats":
		return h.guildNameAction(args, func(name string) Response {
			g, err := h.guilds.Get(name)
			if err != nil {
				return h.internalError(err)
			}
			if g == nil {
				return ephemeral(fmt.Sprintf("No guild named *%s*.", name))
			}
			return ephemeralBlocks(GuildInfoBlocks(g))
		})
	case "rename":
		if len(args) != 2 {
			return ephemeral("Usage: `/quest guild rename <name> <new-name>`")
		}
		if _, err := h.guilds.Rename(args[0], args[1], p.Key); err != nil {
			return h.guildError(err, args[0])
		}
		return Response{Text: fmt.Sprintf("🏰 Guild *%s* is now known as *%s*.", args[0], args[1]), InChannel: true}
	case "transfer":
		if len(args) != 2 {
			return ephemeral("Usage: `/quest guild transfer <name> <member-key>`")
		}
		if _, err := h.guilds.TransferLeadership(args[0], p.Key, args[1]); err != nil {
			return h.guildError(err, args[0])
		}
		return Response{Text: fmt.Sprintf("👑 *%s* now leads guild *%s*.", args[1], args[0]), InChannel: true}
	case "kick":
		if len(args) != 2 {
			return ephemeral("Usage: `/quest guild kick <name> <member-key>`")
		}
		g, err := h.guilds.Get(args[0])
		if err != nil {
			return h.internalError(err)
		}
		if g == nil {
			return ephemeral(fmt.Sprintf("No guild named *%s*.", args[0]))
		}
		if g.LeaderKey != p.Key {
			return ephemeral("Only the guild leader can kick members.")
		}
		if err := h.guilds.Leave(args[0], args[1]); err != nil {
			return h.guildError(err, args[0])
		}
		return ephemeral(fmt.Sprintf("*%s* was removed from guild *%s*.", args[1], args[0]))
	default:
		return ephemeral(fmt.Sprintf("Unknown guild action `%s`. Try `/quest help`.", action))
	}
}

func (h *CommandHandler) guildCreate(cmd slack.SlashCommand, p *models.Player, args []string) Response {
	if len(args) < 1 {
		return ephemeral("Usage: `/quest guild create <name> [components,comma,separated] [labels,comma,separated]`")
	}
	if cmd.ChannelID == "" || strings.HasPrefix(cmd.ChannelID, "D") {
		return ephemeral("Run `/quest guild create` from the channel the guild should live in.")
	}
	if h.channels != nil && !h.channels.ChannelExists(cmd.ChannelID) {
		return ephemeral("I can't see this channel. Invite the bot here first, then try again.")
	}

	params := guild.CreateParams{
		Name:      args[0],
		ChannelID: cmd.ChannelID,
		LeaderKey: p.Key,
	}
	if len(args) > 1 {
		params.Components = splitList(args[1])
	}
	if len(args) > 2 {
		params.Labels = splitList(args[2])
	}

	g, err := h.guilds.Create(params)
	if err != nil {
		return h.guildError(err, args[0])
	}
	return Response{
		Text:      fmt.Sprintf("🏰 Guild *%s* founded in <#%s>! Leader: *%s*.", g.Name, g.ChannelID, p.DisplayName),
		InChannel: true,
	}
}

func (h *CommandHandler) guildList() Response {
	guilds, err := h.guilds.List()
	if err != nil {
		return h.internalError(err)
	}
	if len(guilds) == 0 {
		return ephemeral("No guilds yet. Found one with `/quest guild create <name>`.")
	}
	var b strings.Builder
	b.WriteString("*Active guilds:*\n")
	for _, g := range guilds {
		fmt.Fprintf(&b, "🏰 *%s* — %d/%d members · %d XP · <#%s>\n",
			g.Name, g.ActiveMembers, g.MaxMembers, g.TotalXP, g.ChannelID)
	}
	return ephemeral(b.String())
}

func (h *CommandHandler) guildNameAction(args []string, fn func(name string) Response) Response {
	if len(args) != 1 {
		return ephemeral("This command takes exactly one argument: the guild name.")
	}
	return fn(args[0])
}

func (h *CommandHandler) guildError(err error, name string) Response {
	switch {
	case errors.Is(err, qerrors.ErrNotFound):
		return ephemeral(fmt.Sprintf("No guild named *%s*, or the player is not a member.", name))
	case errors.Is(err, qerrors.ErrConflict):
		return ephemeral("That name, channel or membership already exists.")
	case errors.Is(err, qerrors.ErrGuildFull):
		return ephemeral(fmt.Sprintf("Guild *%s* is at capacity.", name))
	case errors.Is(err, qerrors.ErrLeaderLeave):
		return ephemeral("Transfer leadership before leaving: `/quest guild transfer <name> <member>`.")
	case errors.Is(err, qerrors.ErrNotLeader):
		return ephemeral("Only the guild leader can do that.")
	case errors.Is(err, qerrors.ErrBadRequest):
		return ephemeral("Invalid arguments. Try `/quest help`.")
	default:
		return h.internalError(err)
	}
}

func (h *CommandHandler) internalError(err error) Response {
	h.logger.Error().Err(err).Msg("command failed")
	return ephemeral("Something went wrong in the tavern. Try again in a moment.")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
