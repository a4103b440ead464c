package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/xp"
)

const storyColumns = `id, player_key, issue_key, status, narrative, loot, achievement,
	snapshot, award, delivered_to, created_at`

func scanStory(row interface{ Scan(...interface{}) error }) (*models.Story, error) {
	st := &models.Story{}
	var loot, achievement sql.NullString
	var snapshot, award, deliveredTo string
	var createdAt int64

	err := row.Scan(&st.ID, &st.PlayerKey, &st.IssueKey, &st.Status, &st.Narrative,
		&loot, &achievement, &snapshot, &award, &deliveredTo, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan story: %w", err)
	}

	st.Loot = loot.String
	st.Achievement = achievement.String
	st.CreatedAt = time.UnixMilli(createdAt)
	if err := json.Unmarshal([]byte(snapshot), &st.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(award), &st.Award); err != nil {
		return nil, fmt.Errorf("failed to decode award: %w", err)
	}
	if err := json.Unmarshal([]byte(deliveredTo), &st.DeliveredTo); err != nil {
		return nil, fmt.Errorf("failed to decode delivered_to: %w", err)
	}
	return st, nil
}

// SaveStory persists a story exactly once per (player, issue, status).
// When a row with the same key already exists its id is returned with
// existed=true and nothing is written.
func (s *Store) SaveStory(st *models.Story) (id int64, existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRow(`SELECT id FROM stories WHERE player_key = ? AND issue_key = ? AND status = ?`,
		st.PlayerKey, st.IssueKey, st.Status).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to check story: %w", err)
	}

	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	snapshot, _ := json.Marshal(st.Snapshot)
	award, _ := json.Marshal(st.Award)
	deliveredTo, _ := json.Marshal(st.DeliveredTo)
	if st.DeliveredTo == nil {
		deliveredTo = []byte("[]")
	}

	res, err := s.db.Exec(`
		INSERT INTO stories (player_key, issue_key, status, narrative, loot, achievement,
			snapshot, award, delivered_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.PlayerKey, st.IssueKey, st.Status, st.Narrative,
		sql.NullString{String: st.Loot, Valid: st.Loot != ""},
		sql.NullString{String: st.Achievement, Valid: st.Achievement != ""},
		string(snapshot), string(award), string(deliveredTo), st.CreatedAt.UnixMilli())
	if isUniqueViolation(err) {
		// Concurrent writer won the race; return its row.
		var existingID int64
		if qerr := s.db.QueryRow(`SELECT id FROM stories WHERE player_key = ? AND issue_key = ? AND status = ?`,
			st.PlayerKey, st.IssueKey, st.Status).Scan(&existingID); qerr == nil {
			return existingID, true, nil
		}
		return 0, false, fmt.Errorf("failed to resolve story conflict: %w", err)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to save story: %w", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get story id: %w", err)
	}
	st.ID = id
	return id, false, nil
}

// GetStoryByTicketAndStatus is the exact lookup used by the idempotence check.
func (s *Store) GetStoryByTicketAndStatus(playerKey, issueKey, status string) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+storyColumns+` FROM stories
		WHERE player_key = ? AND issue_key = ? AND status = ?`, playerKey, issueKey, status)
	return scanStory(row)
}

// statusRank orders the stories of one issue by progress, not arrival. A
// terminal story must win even when the transitions arrived out of order.
func statusRank(status string) int {
	switch {
	case xp.IsCompletion(status):
		return 2
	case status == "In Progress":
		return 1
	}
	return 0
}

// GetStoriesByPlayer returns the n most recent stories for a player,
// deduplicated by issue key. Within an issue the furthest-progressed status
// wins: a "Done" story supersedes the "In Progress" one in dashboards and
// conversational recall regardless of which event arrived last.
func (s *Store) GetStoriesByPlayer(playerKey string, n int) ([]*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+storyColumns+` FROM stories
		WHERE player_key = ? ORDER BY created_at DESC, id DESC`, playerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	var stories []*models.Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[st.IssueKey]; ok {
			if statusRank(st.Status) > statusRank(stories[i].Status) {
				stories[i] = st
			}
			continue
		}
		index[st.IssueKey] = len(stories)
		stories = append(stories, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stories) > n {
		stories = stories[:n]
	}
	return stories, nil
}

// MarkDelivered records the guild ids a story was delivered to.
func (s *Store) MarkDelivered(storyID int64, guildIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if guildIDs == nil {
		guildIDs = []int64{}
	}
	deliveredTo, _ := json.Marshal(guildIDs)
	_, err := s.db.Exec(`UPDATE stories SET delivered_to = ? WHERE id = ?`, string(deliveredTo), storyID)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	return nil
}
