package jira

import (
	"encoding/json"
	"time"
)

// Time layout used by Jira REST payloads.
const timeLayout = "2006-01-02T15:04:05.000-0700"

// WebhookEvent is the raw Jira webhook payload.
type WebhookEvent struct {
	WebhookEvent string `json:"webhookEvent"`
	IssueEvent   string `json:"issue_event_type_name,omitempty"`
	Issue        *Issue `json:"issue,omitempty"`
	User         *User  `json:"user,omitempty"`
	Changelog    *struct {
		Items []ChangelogItem `json:"items"`
	} `json:"changelog,omitempty"`
}

// ChangelogItem represents a field change in a Jira event.
type ChangelogItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// Issue is a Jira issue with the fields questbot cares about.
type Issue struct {
	ID     string      `json:"id,omitempty"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the subset of issue fields used by the pipeline.
// The description is kept raw: it may be an ADF document or a plain string.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description,omitempty"`
	Status      *Status         `json:"status,omitempty"`
	IssueType   *IssueType      `json:"issuetype,omitempty"`
	Priority    *Priority       `json:"priority,omitempty"`
	Project     *Project        `json:"project,omitempty"`
	Assignee    *User           `json:"assignee,omitempty"`
	Reporter    *User           `json:"reporter,omitempty"`
	Components  []Component     `json:"components,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Created     string          `json:"created,omitempty"`
	Updated     string          `json:"updated,omitempty"`
	Resolution  *Resolution     `json:"resolution,omitempty"`

	// Story points live in instance-specific custom fields. The first
	// non-null candidate wins.
	StoryPointsA *float64 `json:"customfield_10016,omitempty"`
	StoryPointsB *float64 `json:"customfield_10026,omitempty"`
	StoryPointsC *float64 `json:"customfield_10004,omitempty"`
}

// StoryPoints returns the first non-null story-points candidate, or nil.
func (f *IssueFields) StoryPoints() *float64 {
	for _, p := range []*float64{f.StoryPointsA, f.StoryPointsB, f.StoryPointsC} {
		if p != nil {
			return p
		}
	}
	return nil
}

// Status is an issue status.
type Status struct {
	Name string `json:"name"`
}

// IssueType is an issue type (Story, Bug, Task, ...).
type IssueType struct {
	Name string `json:"name"`
}

// Priority is an issue priority.
type Priority struct {
	Name string `json:"name"`
}

// Project identifies the containing project.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// Component is a project component.
type Component struct {
	Name string `json:"name"`
}

// Resolution is an issue resolution.
type Resolution struct {
	Name string `json:"name"`
}

// User is a Jira user reference.
type User struct {
	Name         string `json:"name,omitempty"` // server-style username
	AccountID    string `json:"accountId,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

// SearchResult is the response of a JQL search.
type SearchResult struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// adfNode is one node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// parseTime parses a Jira timestamp, falling back to RFC3339.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
