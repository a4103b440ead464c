package jira

import (
	"encoding/json"
	"strings"

	"github.com/q-forge/questbot/internal/models"
)

// ExtractDescription flattens a description field to plain text.
// ADF documents are walked in document order concatenating text leaves;
// plain-string descriptions pass through unchanged.
func ExtractDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var sb strings.Builder
	walkADF(&doc, &sb)
	return strings.TrimSpace(sb.String())
}

func walkADF(n *adfNode, sb *strings.Builder) {
	if n.Text != "" {
		sb.WriteString(n.Text)
	}
	for i := range n.Content {
		walkADF(&n.Content[i], sb)
	}
	// Paragraph-level nodes separate lines of text.
	switch n.Type {
	case "paragraph", "heading", "listItem", "codeBlock":
		sb.WriteString("\n")
	}
}

// syntheticFrom derives the predecessor of a status when no changelog is
// present: To Do → In Progress → Done, with Closed/Resolved as terminal
// equivalents of Done. An unknown or initial status has no predecessor.
func syntheticFrom(status string) string {
	switch status {
	case "Done", "Resolved", "Closed":
		return "In Progress"
	case "In Progress":
		return "To Do"
	}
	return ""
}

// Normalize converts a raw webhook payload into an IssueEvent.
// Downstream components operate on the returned record only.
func Normalize(ev *WebhookEvent) *models.IssueEvent {
	out := &models.IssueEvent{Kind: ev.WebhookEvent}
	if ev.Issue == nil {
		return out
	}

	f := &ev.Issue.Fields
	out.IssueKey = ev.Issue.Key
	out.Summary = f.Summary
	out.StoryPoints = f.StoryPoints()
	out.Labels = append(out.Labels, f.Labels...)
	out.Created = parseTime(f.Created)
	out.Updated = parseTime(f.Updated)

	for _, c := range f.Components {
		out.Components = append(out.Components, c.Name)
	}
	if f.Project != nil {
		out.ProjectKey = f.Project.Key
	}
	if f.IssueType != nil {
		out.IssueType = f.IssueType.Name
	}
	if f.Priority != nil {
		out.Priority = f.Priority.Name
	}

	out.Description = ExtractDescription(f.Description)
	if out.Description == "" {
		out.Description = f.Summary
	}

	out.Assignee = toActor(f.Assignee)
	out.Reporter = toActor(f.Reporter)

	current := ""
	if f.Status != nil {
		current = f.Status.Name
	}

	// First changelog item whose field is "status" wins; otherwise derive
	// a synthetic transition from the current status.
	out.ToStatus = current
	out.FromStatus = syntheticFrom(current)
	if ev.Changelog != nil {
		for _, item := range ev.Changelog.Items {
			if item.Field == "status" {
				out.FromStatus = item.FromString
				out.ToStatus = item.ToString
				break
			}
		}
	}

	return out
}

// ActorOf returns the identity the XP award applies to: the assignee when
// present, else the user who triggered the webhook.
func ActorOf(ev *WebhookEvent, norm *models.IssueEvent) models.Actor {
	if !norm.Assignee.Empty() {
		return norm.Assignee
	}
	return toActor(ev.User)
}

// Snapshot builds the ticket snapshot embedded in a generated story.
func Snapshot(norm *models.IssueEvent) models.TicketSnapshot {
	return models.TicketSnapshot{
		TicketKey:    norm.IssueKey,
		Title:        norm.Summary,
		Description:  norm.Description,
		Status:       norm.ToStatus,
		AssigneeName: displayNameOf(norm.Assignee),
		ReporterName: displayNameOf(norm.Reporter),
		IssueType:    norm.IssueType,
		Priority:     norm.Priority,
		StoryPoints:  norm.StoryPoints,
		ProjectKey:   norm.ProjectKey,
		Components:   norm.Components,
		Labels:       norm.Labels,
	}
}

func displayNameOf(a models.Actor) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

func toActor(u *User) models.Actor {
	if u == nil {
		return models.Actor{}
	}
	return models.Actor{
		Username:    u.Name,
		AccountID:   u.AccountID,
		Email:       u.EmailAddress,
		DisplayName: u.DisplayName,
	}
}
