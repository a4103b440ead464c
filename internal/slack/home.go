package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/xp"
)

// HomeView builds the App Home dashboard: player card, XP progress, recent
// stories and guild roster.
func HomeView(p *models.Player, stories []*models.Story, guilds []*models.Guild) slack.HomeTabViewRequest {
	var blocks []slack.Block

	if p == nil {
		blocks = append(blocks,
			slack.NewHeaderBlock(plain("🗺️ Welcome, wanderer!")),
			slack.NewSectionBlock(mrkdwn("You are not registered yet. Run `/quest register <jira-username>` to begin your adventure."), nil, nil),
		)
		return homeRequest(blocks)
	}

	blocks = append(blocks,
		slack.NewHeaderBlock(plain(fmt.Sprintf("🧙 %s — Level %d %s", p.DisplayName, p.Level, p.CurrentTitle))),
		slack.NewSectionBlock(mrkdwn(progressLine(p)), nil, nil),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			mrkdwn(fmt.Sprintf("*Quests completed:*\n%d", p.TotalTickets)),
			mrkdwn(fmt.Sprintf("*Bugs slain:*\n%d", p.TotalBugs)),
		}, nil),
		slack.NewDividerBlock(),
	)

	blocks = append(blocks, slack.NewHeaderBlock(plain("📖 Recent Quests")))
	if len(stories) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("_No quest stories yet. Move a ticket and the bard will sing._"), nil, nil))
	}
	for _, st := range stories {
		blocks = append(blocks,
			slack.NewSectionBlock(mrkdwn(st.Narrative), nil, nil),
			slack.NewContextBlock("", mrkdwn(fmt.Sprintf("🎫 %s · %s · +%d XP", st.IssueKey, st.Status, st.Award.Points))),
		)
	}

	blocks = append(blocks, slack.NewDividerBlock(), slack.NewHeaderBlock(plain("🏰 Your Guilds")))
	memberGuilds := guildsOf(p, guilds)
	if len(memberGuilds) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("_No guild yet. `/quest guild list` to find one._"), nil, nil))
	}
	for _, g := range memberGuilds {
		line := fmt.Sprintf("*%s* — %d members · %d XP · <#%s>", g.Name, g.ActiveMembers, g.TotalXP, g.ChannelID)
		if g.LeaderKey == p.Key {
			line += " · 👑 you lead this guild"
		}
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(line), nil, nil))
	}

	return homeRequest(blocks)
}

func progressLine(p *models.Player) string {
	toNext := xp.XPToNext(p.XP)
	if toNext == 0 {
		return fmt.Sprintf("✨ *%d XP* — the summit is yours, nothing left to climb", p.XP)
	}
	return fmt.Sprintf("✨ *%d XP* — %d to next level %s", p.XP, toNext, progressBar(p.XP))
}

// progressBar draws a ten-segment bar over the current level span.
func progressBar(totalXP int) string {
	level := xp.LevelFor(totalXP)
	if level >= len(xp.Thresholds) {
		return ""
	}
	floor := xp.Thresholds[level-1]
	ceil := xp.Thresholds[level]
	span := ceil - floor
	filled := 0
	if span > 0 {
		filled = (totalXP - floor) * 10 / span
	}
	return "`" + strings.Repeat("█", filled) + strings.Repeat("░", 10-filled) + "`"
}

func guildsOf(p *models.Player, guilds []*models.Guild) []*models.Guild {
	var out []*models.Guild
	for _, g := range guilds {
		if g.HasMember(p.Key) {
			out = append(out, g)
		}
	}
	return out
}

func homeRequest(blocks []slack.Block) slack.HomeTabViewRequest {
	return slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}
