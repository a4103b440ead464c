package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/xp"
)

// StoryPost bundles everything the renderers need for one delivery.
type StoryPost struct {
	Player    *models.Player
	Story     *models.Story
	LevelUp   *models.LevelUp
	TicketURL string
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

func heroLine(p *models.Player) string {
	name := p.DisplayName
	if p.SlackUserID != "" {
		name = fmt.Sprintf("<@%s>", p.SlackUserID)
	}
	return fmt.Sprintf("🧙 %s · Level %d %s · %d XP", name, p.Level, p.CurrentTitle, p.XP)
}

func xpLine(award models.XPAward) string {
	line := fmt.Sprintf("✨ *+%d XP*", award.Points)
	if len(award.Reasons) > 0 {
		line += " — " + strings.Join(award.Reasons, ", ")
	}
	return line
}

func ticketLine(st *models.Story, url string) string {
	ref := st.IssueKey
	if url != "" {
		ref = fmt.Sprintf("<%s|%s>", url, st.IssueKey)
	}
	return fmt.Sprintf("🎫 %s · %s · %s", ref, st.Snapshot.Title, st.Status)
}

// TeamStoryBlocks renders the announcement posted to a guild channel.
func TeamStoryBlocks(guildName string, post StoryPost) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(fmt.Sprintf("⚔️ Guild %s — Quest Update", guildName))),
		slack.NewSectionBlock(mrkdwn(post.Story.Narrative), nil, nil),
		slack.NewSectionBlock(mrkdwn(xpLine(post.Story.Award)), nil, nil),
	}
	blocks = append(blocks, rewardBlocks(post.Story)...)
	blocks = append(blocks,
		slack.NewContextBlock("", mrkdwn(ticketLine(post.Story, post.TicketURL))),
		slack.NewContextBlock("", mrkdwn(heroLine(post.Player))),
	)
	if post.LevelUp != nil {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(levelUpLine(post.LevelUp)), nil, nil))
	}
	return blocks
}

// PersonalStoryBlocks renders the direct-message variant used when no guild
// channel matched.
func PersonalStoryBlocks(post StoryPost) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn(post.Story.Narrative), nil, nil),
		slack.NewSectionBlock(mrkdwn(xpLine(post.Story.Award)), nil, nil),
	}
	blocks = append(blocks, rewardBlocks(post.Story)...)
	blocks = append(blocks,
		slack.NewContextBlock("", mrkdwn(ticketLine(post.Story, post.TicketURL))),
		slack.NewContextBlock("", mrkdwn(heroLine(post.Player))),
	)
	if post.LevelUp != nil {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(levelUpLine(post.LevelUp)), nil, nil))
	}
	return blocks
}

func rewardBlocks(st *models.Story) []slack.Block {
	var blocks []slack.Block
	if st.Loot != "" {
		blocks = append(blocks, slack.NewContextBlock("", mrkdwn("🎁 Loot: *"+st.Loot+"*")))
	}
	if st.Achievement != "" {
		blocks = append(blocks, slack.NewContextBlock("", mrkdwn("🏆 Achievement unlocked: *"+st.Achievement+"*")))
	}
	return blocks
}

func levelUpLine(lu *models.LevelUp) string {
	return fmt.Sprintf("🎉 *LEVEL UP!* %d → %d. New title: *%s* (%d XP to next level)",
		lu.OldLevel, lu.NewLevel, lu.NewTitle, lu.XPToNext)
}

// StatusBlocks renders the /quest status reply.
func StatusBlocks(p *models.Player) []slack.Block {
	toNext := xp.XPToNext(p.XP)
	progress := fmt.Sprintf("%d XP to next level", toNext)
	if toNext == 0 {
		progress = "max level reached"
	}
	return []slack.Block{
		slack.NewHeaderBlock(plain(fmt.Sprintf("🧙 %s", p.DisplayName))),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			mrkdwn(fmt.Sprintf("*Level:*\n%d — %s", p.Level, p.CurrentTitle)),
			mrkdwn(fmt.Sprintf("*XP:*\n%d (%s)", p.XP, progress)),
			mrkdwn(fmt.Sprintf("*Quests completed:*\n%d", p.TotalTickets)),
			mrkdwn(fmt.Sprintf("*Bugs slain:*\n%d", p.TotalBugs)),
		}, nil),
	}
}

// LeaderboardBlocks renders the workspace leaderboard.
func LeaderboardBlocks(players []*models.Player) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("🏆 Hall of Heroes")),
	}
	if len(players) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("_No heroes have earned XP yet. Close a ticket!_"), nil, nil))
		return blocks
	}
	medals := []string{"🥇", "🥈", "🥉"}
	var b strings.Builder
	for i, p := range players {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&b, "%s *%s* — Level %d %s — %d XP\n", rank, p.DisplayName, p.Level, p.CurrentTitle, p.XP)
	}
	blocks = append(blocks, slack.NewSectionBlock(mrkdwn(b.String()), nil, nil))
	return blocks
}

// GuildInfoBlocks renders /quest guild info.
func GuildInfoBlocks(g *models.Guild) []slack.Block {
	fields := []*slack.TextBlockObject{
		mrkdwn(fmt.Sprintf("*Leader:*\n%s", g.LeaderKey)),
		mrkdwn(fmt.Sprintf("*Members:*\n%d / %d", g.ActiveMembers, g.MaxMembers)),
		mrkdwn(fmt.Sprintf("*Total XP:*\n%d", g.TotalXP)),
		mrkdwn(fmt.Sprintf("*Average level:*\n%.1f", g.AverageLevel)),
		mrkdwn(fmt.Sprintf("*Quests completed:*\n%d", g.TotalTickets)),
		mrkdwn(fmt.Sprintf("*Channel:*\n<#%s>", g.ChannelID)),
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(fmt.Sprintf("🏰 Guild %s", g.Name))),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if len(g.Components) > 0 || len(g.Labels) > 0 {
		routing := fmt.Sprintf("🧭 Routing — components: `%s` · labels: `%s`",
			strings.Join(g.Components, ", "), strings.Join(g.Labels, ", "))
		blocks = append(blocks, slack.NewContextBlock("", mrkdwn(routing)))
	}
	return blocks
}

// HelpBlocks renders the /quest help reply.
func HelpBlocks() []slack.Block {
	text := "*Player commands*\n" +
		"`/quest status` — your level, XP and progress\n" +
		"`/quest register <jira-username>` — link your JIRA identity\n" +
		"`/quest register-email <email>` — link by JIRA email\n" +
		"`/quest achievements` — your recent quest stories\n" +
		"`/quest leaderboard` — hall of heroes\n\n" +
		"*Guild commands*\n" +
		"`/quest guild list` — all active guilds\n" +
		"`/quest guild create <name> [components] [labels]` — found a guild in this channel\n" +
		"`/quest guild join <name>` · `/quest guild leave <name>`\n" +
		"`/quest guild info <name>` · `/quest guild stats <name>`\n" +
		"`/quest guild rename <name> <new-name>` — leader only\n" +
		"`/quest guild transfer <name> @member` — hand off leadership\n"
	return []slack.Block{
		slack.NewHeaderBlock(plain("📜 QuestBot Commands")),
		slack.NewSectionBlock(mrkdwn(text), nil, nil),
	}
}
