// Package xp implements the XP award rules and level progression tables.
package xp

import (
	"fmt"
	"strings"
	"time"

	"github.com/q-forge/questbot/internal/models"
)

// Thresholds maps level L (index L-1) to the minimum XP for that level.
var Thresholds = [20]int{
	0, 160, 320, 480, 640, 800, 1200, 1600, 2000, 2400,
	2800, 3400, 4000, 4600, 5200, 5800, 6600, 7400, 8200, 9000,
}

// Titles maps level L (index L-1) to the player title.
var Titles = [20]string{
	"Novice Adventurer",
	"Apprentice Developer",
	"Junior Craftsperson",
	"Skilled Artisan",
	"Elite Specialist",
	"Master Developer",
	"Senior Master",
	"Master Craftsperson",
	"Grand Master",
	"Master Architect",
	"Legendary Coder",
	"Legendary Artisan",
	"Legendary Master",
	"Grand Legendary",
	"Legendary Architect",
	"Mythic Developer",
	"Mythic Overlord",
	"Grand Mythic",
	"Mythic Legend",
	"Debugging God",
}

const (
	statusInProgress = "In Progress"
	statusToDo       = "To Do"

	speedBonusWindow = 24 * time.Hour
)

// LevelFor returns the largest level in [1,20] whose threshold the XP meets.
// Negative XP clamps to level 1.
func LevelFor(xp int) int {
	level := 1
	for l := 1; l <= 20; l++ {
		if xp >= Thresholds[l-1] {
			level = l
		}
	}
	return level
}

// TitleFor returns the title for a level. Out-of-range levels clamp.
func TitleFor(level int) string {
	if level < 1 {
		level = 1
	}
	if level > 20 {
		level = 20
	}
	return Titles[level-1]
}

// XPToNext returns the XP remaining to the next level, or 0 at the cap.
func XPToNext(xp int) int {
	level := LevelFor(xp)
	if level >= 20 {
		return 0
	}
	return Thresholds[level] - xp
}

// IsCompletion reports whether the status is a terminal "done" state.
func IsCompletion(status string) bool {
	switch status {
	case "Done", "Resolved", "Closed":
		return true
	}
	return false
}

// ComputeAward applies the award table to a normalized event.
// At most one of the in-progress, completion and assignment branches acts
// as the base; bonuses stack on completion only. Reasons are collected for
// the audit trail embedded in the story record.
func ComputeAward(ev *models.IssueEvent) models.XPAward {
	award := models.XPAward{}

	isBug := strings.Contains(strings.ToLower(ev.IssueType), "bug")

	switch {
	case ev.ToStatus == statusInProgress && ev.FromStatus != statusInProgress:
		award.Points = 15
		award.Reasons = append(award.Reasons, "started work (+15)")

	case IsCompletion(ev.ToStatus) && ev.FromStatus != ev.ToStatus:
		award.Completion = true
		award.Bug = isBug
		award.Points = 50
		award.Reasons = append(award.Reasons, "ticket completed (+50)")

		if ev.StoryPoints != nil && *ev.StoryPoints > 0 {
			pts := int(*ev.StoryPoints * 10)
			award.Points += pts
			award.Reasons = append(award.Reasons, fmt.Sprintf("%.0f story points (+%d)", *ev.StoryPoints, pts))
		}
		if isBug {
			award.Points += 25
			award.Reasons = append(award.Reasons, "bug squashed (+25)")
		}
		if !ev.Created.IsZero() && !ev.Updated.IsZero() && ev.Updated.Sub(ev.Created) < speedBonusWindow {
			award.Points += 20
			award.Reasons = append(award.Reasons, "speed bonus (+20)")
		}

	case !ev.Assignee.Empty() && (ev.FromStatus == statusToDo || ev.FromStatus == ""):
		award.Points = 10
		award.Reasons = append(award.Reasons, "ticket assigned (+10)")

	case ev.ToStatus != "":
		// Fires even on events unrelated to status progress.
		award.Points = 5
		award.Reasons = append(award.Reasons, "activity (+5)")
	}

	return award
}

// MakeLevelUp returns a LevelUp record if the XP change crossed a threshold,
// or nil otherwise.
func MakeLevelUp(oldXP, newXP int) *models.LevelUp {
	oldLevel := LevelFor(oldXP)
	newLevel := LevelFor(newXP)
	if newLevel <= oldLevel {
		return nil
	}
	return &models.LevelUp{
		OldLevel:     oldLevel,
		NewLevel:     newLevel,
		OldTitle:     TitleFor(oldLevel),
		NewTitle:     TitleFor(newLevel),
		LevelsGained: newLevel - oldLevel,
		XPToNext:     XPToNext(newXP),
	}
}
