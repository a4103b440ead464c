package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/q-forge/questbot/internal/models"
)

const playerColumns = `key, tracker_account_id, email, display_name, slack_user_id,
	xp, level, current_title, total_tickets, total_bugs, auto_created, created_at, updated_at`

func scanPlayer(row interface{ Scan(...interface{}) error }) (*models.Player, error) {
	p := &models.Player{}
	var accountID, email, displayName, slackID sql.NullString
	var autoCreated int
	var createdAt, updatedAt int64

	err := row.Scan(&p.Key, &accountID, &email, &displayName, &slackID,
		&p.XP, &p.Level, &p.CurrentTitle, &p.TotalTickets, &p.TotalBugs,
		&autoCreated, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}

	p.TrackerAccountID = accountID.String
	p.Email = email.String
	p.DisplayName = displayName.String
	p.SlackUserID = slackID.String
	p.AutoCreated = autoCreated != 0
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return p, nil
}

// CreatePlayer inserts a new player row.
func (s *Store) CreatePlayer(p *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Level == 0 {
		p.Level = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO players (key, tracker_account_id, email, display_name, slack_user_id,
			xp, level, current_title, total_tickets, total_bugs, auto_created, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Key,
		sql.NullString{String: p.TrackerAccountID, Valid: p.TrackerAccountID != ""},
		sql.NullString{String: p.Email, Valid: p.Email != ""},
		p.DisplayName,
		sql.NullString{String: p.SlackUserID, Valid: p.SlackUserID != ""},
		p.XP, p.Level, p.CurrentTitle, p.TotalTickets, p.TotalBugs,
		boolToInt(p.AutoCreated), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by its stable key. Returns nil when absent.
func (s *Store) GetPlayer(key string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlayerWhere("key = ?", key)
}

// FindPlayerByAccountID looks up a player by tracker account id.
func (s *Store) FindPlayerByAccountID(accountID string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlayerWhere("tracker_account_id = ?", accountID)
}

// FindPlayerByEmail looks up a player by email.
func (s *Store) FindPlayerByEmail(email string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlayerWhere("email = ?", email)
}

// FindPlayerByDisplayName looks up a player by display name, case-insensitively.
// Last-resort fuzzy match; may bind two distinct tracker actors to one player.
func (s *Store) FindPlayerByDisplayName(name string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlayerWhere("display_name = ? COLLATE NOCASE", name)
}

// FindPlayerBySlackID looks up a player by bound Slack user id.
func (s *Store) FindPlayerBySlackID(slackUserID string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlayerWhere("slack_user_id = ?", slackUserID)
}

func (s *Store) getPlayerWhere(where string, arg interface{}) (*models.Player, error) {
	row := s.db.QueryRow(`SELECT `+playerColumns+` FROM players WHERE `+where, arg)
	p, err := scanPlayer(row)
	if err != nil || p == nil {
		return p, err
	}
	if err := s.loadPlayerGuilds(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) loadPlayerGuilds(p *models.Player) error {
	rows, err := s.db.Query(`
		SELECT m.guild_id FROM guild_members m
		JOIN guilds g ON g.id = m.guild_id
		WHERE m.player_key = ? AND g.is_active = 1
		ORDER BY m.guild_id`, p.Key)
	if err != nil {
		return fmt.Errorf("failed to load player guilds: %w", err)
	}
	defer rows.Close()

	p.GuildIDs = nil
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan guild id: %w", err)
		}
		p.GuildIDs = append(p.GuildIDs, id)
	}
	return rows.Err()
}

// BindSlackUser binds a Slack user id and display name to a player and
// clears the auto-created flag.
func (s *Store) BindSlackUser(key, slackUserID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE players SET slack_user_id = ?, display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
			auto_created = 0, updated_at = ?
		WHERE key = ?`,
		slackUserID, displayName, displayName, time.Now().UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("failed to bind slack user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("player not found: %s", key)
	}
	return nil
}

// ApplyAward atomically increments a player's XP and counters and returns
// the XP before and after. Level and title are recomputed by the caller via
// SetPlayerRank; they are pure functions of XP so a stale value is corrected
// by the next award.
func (s *Store) ApplyAward(key string, points, ticketInc, bugInc int) (oldXP, newXP int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT xp FROM players WHERE key = ?`, key).Scan(&oldXP); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, fmt.Errorf("player not found: %s", key)
		}
		return 0, 0, fmt.Errorf("failed to read xp: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE players
		SET xp = xp + ?, total_tickets = total_tickets + ?, total_bugs = total_bugs + ?, updated_at = ?
		WHERE key = ?`,
		points, ticketInc, bugInc, time.Now().UnixMilli(), key)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to apply award: %w", err)
	}

	if err := tx.QueryRow(`SELECT xp FROM players WHERE key = ?`, key).Scan(&newXP); err != nil {
		return 0, 0, fmt.Errorf("failed to read new xp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit award: %w", err)
	}
	return oldXP, newXP, nil
}

// SetPlayerRank writes the recomputed level and title for a player.
func (s *Store) SetPlayerRank(key string, level int, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE players SET level = ?, current_title = ?, updated_at = ? WHERE key = ?`,
		level, title, time.Now().UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("failed to set player rank: %w", err)
	}
	return nil
}

// ListTopPlayers returns players ordered by XP descending.
func (s *Store) ListTopPlayers(limit int) ([]*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+playerColumns+` FROM players ORDER BY xp DESC, key ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
