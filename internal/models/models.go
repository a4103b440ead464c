// Package models defines the core questbot entities shared across packages.
package models

import "time"

// Actor identifies the tracker user behind an event.
type Actor struct {
	Username    string `json:"username,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Empty reports whether the actor carries no identity at all.
func (a Actor) Empty() bool {
	return a.Username == "" && a.AccountID == "" && a.Email == "" && a.DisplayName == ""
}

// Player is a registered human. The tracker username is the canonical key.
type Player struct {
	Key              string    `json:"key"`
	TrackerAccountID string    `json:"trackerAccountId,omitempty"`
	Email            string    `json:"email,omitempty"`
	DisplayName      string    `json:"displayName"`
	SlackUserID      string    `json:"slackUserId,omitempty"` // empty until registration
	XP               int       `json:"xp"`
	Level            int       `json:"level"`
	CurrentTitle     string    `json:"currentTitle"`
	TotalTickets     int       `json:"totalTickets"`
	TotalBugs        int       `json:"totalBugs"`
	AutoCreated      bool      `json:"autoCreated"`
	GuildIDs         []int64   `json:"guildIds,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// GuildRole is a member's role within a guild.
type GuildRole string

const (
	RoleLeader GuildRole = "leader"
	RoleMember GuildRole = "member"
)

// GuildMember is one entry in a guild's member list.
type GuildMember struct {
	PlayerKey string    `json:"playerKey"`
	Role      GuildRole `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Guild is a named group of players bound 1:1 to a Slack channel.
type Guild struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	ChannelID     string        `json:"channelId"`
	LeaderKey     string        `json:"leaderKey,omitempty"`
	Members       []GuildMember `json:"members"`
	Components    []string      `json:"jiraComponents,omitempty"`
	Labels        []string      `json:"jiraLabels,omitempty"`
	ProjectKey    string        `json:"projectKey,omitempty"`
	TotalXP       int           `json:"totalXp"`
	AverageLevel  float64       `json:"averageLevel"`
	TotalTickets  int           `json:"totalTickets"`
	ActiveMembers int           `json:"activeMembers"`
	IsActive      bool          `json:"isActive"`
	MaxMembers    int           `json:"maxMembers"`
	AllowAutoJoin bool          `json:"allowAutoJoin"`
	CreatedBy     string        `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// HasMember reports whether the player is in the guild's member list.
func (g *Guild) HasMember(playerKey string) bool {
	for _, m := range g.Members {
		if m.PlayerKey == playerKey {
			return true
		}
	}
	return false
}

// IssueEvent is the normalized form of an inbound tracker webhook.
// Downstream code operates on this record only, never on the raw payload.
type IssueEvent struct {
	Kind        string    `json:"kind"` // e.g. "jira:issue_updated"
	IssueKey    string    `json:"issueKey"`
	ProjectKey  string    `json:"projectKey,omitempty"`
	IssueType   string    `json:"issueType,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	StoryPoints *float64  `json:"storyPoints,omitempty"`
	Components  []string  `json:"components,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Assignee    Actor     `json:"assignee"`
	Reporter    Actor     `json:"reporter"`
	FromStatus  string    `json:"fromStatus,omitempty"`
	ToStatus    string    `json:"toStatus,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// TicketSnapshot is the slice of issue state embedded in a generated story.
type TicketSnapshot struct {
	TicketKey    string   `json:"ticketKey"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status"`
	AssigneeName string   `json:"assigneeName"`
	ReporterName string   `json:"reporterName,omitempty"`
	IssueType    string   `json:"issueType,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	StoryPoints  *float64 `json:"storyPoints,omitempty"`
	ProjectKey   string   `json:"projectKey,omitempty"`
	Components   []string `json:"components,omitempty"`
	Labels       []string `json:"labels,omitempty"`
}

// XPAward is the outcome of the XP engine for one event.
type XPAward struct {
	Points     int      `json:"points"`
	Reasons    []string `json:"reasons"`
	Completion bool     `json:"completion"`
	Bug        bool     `json:"bug"`
}

// LevelUp records a level threshold crossing.
type LevelUp struct {
	OldLevel     int    `json:"oldLevel"`
	NewLevel     int    `json:"newLevel"`
	OldTitle     string `json:"oldTitle"`
	NewTitle     string `json:"newTitle"`
	LevelsGained int    `json:"levelsGained"`
	XPToNext     int    `json:"xpToNext"`
}

// Story is a generated narrative tied to a single issue transition.
// Unique per (PlayerKey, IssueKey, Status).
type Story struct {
	ID          int64          `json:"id"`
	PlayerKey   string         `json:"playerKey"`
	IssueKey    string         `json:"issueKey"`
	Status      string         `json:"status"`
	Narrative   string         `json:"narrative"`
	Loot        string         `json:"loot,omitempty"`
	Achievement string         `json:"achievement,omitempty"`
	Snapshot    TicketSnapshot `json:"snapshot"`
	Award       XPAward        `json:"award"`
	DeliveredTo []int64        `json:"deliveredTo,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
