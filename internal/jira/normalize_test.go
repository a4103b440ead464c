package jira

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDescription_ADF(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "doc",
		"content": [
			{"type": "paragraph", "content": [
				{"type": "text", "text": "Fix the "},
				{"type": "text", "text": "login flow"}
			]},
			{"type": "paragraph", "content": [
				{"type": "text", "text": "Steps included."}
			]}
		]
	}`)
	got := ExtractDescription(raw)
	assert.Equal(t, "Fix the login flow\nSteps included.", got)
}

func TestExtractDescription_PlainString(t *testing.T) {
	got := ExtractDescription(json.RawMessage(`"just text"`))
	assert.Equal(t, "just text", got)
}

func TestExtractDescription_Empty(t *testing.T) {
	assert.Equal(t, "", ExtractDescription(nil))
	assert.Equal(t, "", ExtractDescription(json.RawMessage(`null`)))
	assert.Equal(t, "", ExtractDescription(json.RawMessage(`not json`)))
}

func webhookFixture() *WebhookEvent {
	return &WebhookEvent{
		WebhookEvent: "jira:issue_updated",
		Issue: &Issue{
			Key: "PROJ-42",
			Fields: IssueFields{
				Summary:      "Slay the dragon",
				Status:       &Status{Name: "Done"},
				IssueType:    &IssueType{Name: "Story"},
				Priority:     &Priority{Name: "High"},
				Project:      &Project{Key: "PROJ"},
				Components:   []Component{{Name: "UI"}, {Name: "API"}},
				Labels:       []string{"frontend"},
				Assignee:     &User{Name: "frodo", EmailAddress: "frodo@shire.io", DisplayName: "Frodo Baggins"},
				Reporter:     &User{Name: "gandalf", DisplayName: "Gandalf"},
				Created:      "2025-06-01T09:00:00.000+0000",
				Updated:      "2025-06-01T14:00:00.000+0000",
				StoryPointsB: fptr(3),
			},
		},
		User: &User{Name: "gandalf"},
	}
}

func fptr(v float64) *float64 { return &v }

func TestNormalize_ChangelogTransition(t *testing.T) {
	ev := webhookFixture()
	ev.Changelog = &struct {
		Items []ChangelogItem `json:"items"`
	}{Items: []ChangelogItem{
		{Field: "assignee", FromString: "", ToString: "frodo"},
		{Field: "status", FromString: "In Progress", ToString: "Done"},
	}}

	norm := Normalize(ev)
	assert.Equal(t, "PROJ-42", norm.IssueKey)
	assert.Equal(t, "In Progress", norm.FromStatus)
	assert.Equal(t, "Done", norm.ToStatus)
	assert.Equal(t, []string{"UI", "API"}, norm.Components)
	assert.Equal(t, []string{"frontend"}, norm.Labels)
	require.NotNil(t, norm.StoryPoints)
	assert.Equal(t, 3.0, *norm.StoryPoints)
	assert.Equal(t, "frodo", norm.Assignee.Username)
	assert.Equal(t, 5.0, norm.Updated.Sub(norm.Created).Hours())
}

func TestNormalize_SyntheticTransition(t *testing.T) {
	tests := []struct {
		current  string
		wantFrom string
	}{
		{"Done", "In Progress"},
		{"Resolved", "In Progress"},
		{"Closed", "In Progress"},
		{"In Progress", "To Do"},
		{"To Do", ""},
		{"Blocked", ""},
	}
	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			ev := webhookFixture()
			ev.Issue.Fields.Status = &Status{Name: tt.current}
			norm := Normalize(ev)
			assert.Equal(t, tt.current, norm.ToStatus)
			assert.Equal(t, tt.wantFrom, norm.FromStatus)
		})
	}
}

func TestNormalize_DescriptionFallsBackToSummary(t *testing.T) {
	ev := webhookFixture()
	norm := Normalize(ev)
	assert.Equal(t, "Slay the dragon", norm.Description)
}

func TestNormalize_NoIssue(t *testing.T) {
	norm := Normalize(&WebhookEvent{WebhookEvent: "jira:issue_deleted"})
	assert.Equal(t, "jira:issue_deleted", norm.Kind)
	assert.Empty(t, norm.IssueKey)
}

func TestStoryPoints_FirstNonNullWins(t *testing.T) {
	f := &IssueFields{StoryPointsA: fptr(5), StoryPointsB: fptr(8)}
	require.NotNil(t, f.StoryPoints())
	assert.Equal(t, 5.0, *f.StoryPoints())

	assert.Nil(t, (&IssueFields{}).StoryPoints())
}

func TestActorOf_PrefersAssignee(t *testing.T) {
	ev := webhookFixture()
	norm := Normalize(ev)
	actor := ActorOf(ev, norm)
	assert.Equal(t, "frodo", actor.Username)

	ev.Issue.Fields.Assignee = nil
	norm = Normalize(ev)
	actor = ActorOf(ev, norm)
	assert.Equal(t, "gandalf", actor.Username)
}

func TestSnapshot(t *testing.T) {
	norm := Normalize(webhookFixture())
	snap := Snapshot(norm)
	assert.Equal(t, "PROJ-42", snap.TicketKey)
	assert.Equal(t, "Slay the dragon", snap.Title)
	assert.Equal(t, "Done", snap.Status)
	assert.Equal(t, "Frodo Baggins", snap.AssigneeName)
	assert.Equal(t, "Gandalf", snap.ReporterName)
}
