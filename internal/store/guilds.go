package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	qerrors "github.com/q-forge/questbot/internal/errors"
	"github.com/q-forge/questbot/internal/models"
)

const guildColumns = `id, name, channel_id, leader_key, components, labels, project_key,
	total_tickets, is_active, max_members, allow_auto_join, created_by, created_at`

func scanGuild(row interface{ Scan(...interface{}) error }) (*models.Guild, error) {
	g := &models.Guild{}
	var leaderKey, projectKey, createdBy sql.NullString
	var components, labels string
	var isActive, allowAutoJoin int
	var createdAt int64

	err := row.Scan(&g.ID, &g.Name, &g.ChannelID, &leaderKey, &components, &labels,
		&projectKey, &g.TotalTickets, &isActive, &g.MaxMembers, &allowAutoJoin,
		&createdBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan guild: %w", err)
	}

	g.LeaderKey = leaderKey.String
	g.ProjectKey = projectKey.String
	g.CreatedBy = createdBy.String
	g.IsActive = isActive != 0
	g.AllowAutoJoin = allowAutoJoin != 0
	g.CreatedAt = time.UnixMilli(createdAt)

	if err := json.Unmarshal([]byte(components), &g.Components); err != nil {
		return nil, fmt.Errorf("failed to decode components: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &g.Labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	return g, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateGuild inserts a guild and its leader membership in one transaction.
func (s *Store) CreateGuild(g *models.Guild) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.IsActive = true

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO guilds (name, channel_id, leader_key, components, labels, project_key,
			total_tickets, is_active, max_members, allow_auto_join, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?, ?, ?, ?)`,
		g.Name, g.ChannelID,
		sql.NullString{String: g.LeaderKey, Valid: g.LeaderKey != ""},
		marshalStrings(g.Components), marshalStrings(g.Labels),
		sql.NullString{String: g.ProjectKey, Valid: g.ProjectKey != ""},
		g.MaxMembers, boolToInt(g.AllowAutoJoin),
		sql.NullString{String: g.CreatedBy, Valid: g.CreatedBy != ""},
		g.CreatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return qerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create guild: %w", err)
	}

	g.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get guild id: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO guild_members (guild_id, player_key, role, joined_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.LeaderKey, string(models.RoleLeader), g.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to add leader member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit guild: %w", err)
	}
	return nil
}

// GetGuild retrieves a guild by id with members and aggregates loaded.
func (s *Store) GetGuild(id int64) (*models.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getGuildWhere("id = ?", id)
}

// GetGuildByName retrieves an active guild by name.
func (s *Store) GetGuildByName(name string) (*models.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getGuildWhere("name = ? AND is_active = 1", name)
}

// GetGuildByChannel retrieves a guild by its Slack channel id.
func (s *Store) GetGuildByChannel(channelID string) (*models.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getGuildWhere("channel_id = ?", channelID)
}

func (s *Store) getGuildWhere(where string, arg interface{}) (*models.Guild, error) {
	row := s.db.QueryRow(`SELECT `+guildColumns+` FROM guilds WHERE `+where, arg)
	g, err := scanGuild(row)
	if err != nil || g == nil {
		return g, err
	}
	if err := s.hydrateGuild(g); err != nil {
		return nil, err
	}
	return g, nil
}

// hydrateGuild loads members and computes the aggregate stats from the
// membership relation. Aggregates are derived, never stored.
func (s *Store) hydrateGuild(g *models.Guild) error {
	rows, err := s.db.Query(`
		SELECT m.player_key, m.role, m.joined_at
		FROM guild_members m WHERE m.guild_id = ? ORDER BY m.joined_at, m.player_key`, g.ID)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	defer rows.Close()

	g.Members = nil
	for rows.Next() {
		var m models.GuildMember
		var role string
		var joinedAt int64
		if err := rows.Scan(&m.PlayerKey, &role, &joinedAt); err != nil {
			return fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = models.GuildRole(role)
		m.JoinedAt = time.UnixMilli(joinedAt)
		g.Members = append(g.Members, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var totalXP sql.NullInt64
	var avgLevel sql.NullFloat64
	var active sql.NullInt64
	err = s.db.QueryRow(`
		SELECT SUM(p.xp), AVG(p.level), COUNT(*)
		FROM guild_members m JOIN players p ON p.key = m.player_key
		WHERE m.guild_id = ?`, g.ID).Scan(&totalXP, &avgLevel, &active)
	if err != nil {
		return fmt.Errorf("failed to aggregate guild stats: %w", err)
	}
	g.TotalXP = int(totalXP.Int64)
	g.AverageLevel = avgLevel.Float64
	g.ActiveMembers = int(active.Int64)
	return nil
}

// ListActiveGuilds returns all active guilds with members loaded.
func (s *Store) ListActiveGuilds() ([]*models.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + guildColumns + ` FROM guilds WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list guilds: %w", err)
	}
	defer rows.Close()

	var guilds []*models.Guild
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, err
		}
		guilds = append(guilds, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range guilds {
		if err := s.hydrateGuild(g); err != nil {
			return nil, err
		}
	}
	return guilds, nil
}

// AddMember adds a player to a guild, enforcing capacity inside the
// transaction. Membership is one relation covering both the guild side and
// the player side.
func (s *Store) AddMember(guildID int64, playerKey string, role models.GuildRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var count, max int
	err = tx.QueryRow(`
		SELECT (SELECT COUNT(*) FROM guild_members WHERE guild_id = ?), max_members
		FROM guilds WHERE id = ? AND is_active = 1`, guildID, guildID).Scan(&count, &max)
	if err == sql.ErrNoRows {
		return qerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check capacity: %w", err)
	}
	if count >= max {
		return qerrors.ErrGuildFull
	}

	_, err = tx.Exec(`INSERT INTO guild_members (guild_id, player_key, role, joined_at) VALUES (?, ?, ?, ?)`,
		guildID, playerKey, string(role), time.Now().UnixMilli())
	if isUniqueViolation(err) {
		return qerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member: %w", err)
	}
	return nil
}

// RemoveMember removes a player from a guild.
func (s *Store) RemoveMember(guildID int64, playerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM guild_members WHERE guild_id = ? AND player_key = ?`,
		guildID, playerKey)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return qerrors.ErrNotFound
	}
	return nil
}

// TransferLeadership moves the leader role between two members in one
// transaction.
func (s *Store) TransferLeadership(guildID int64, fromKey, toKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE guild_members SET role = 'member' WHERE guild_id = ? AND player_key = ? AND role = 'leader'`,
		guildID, fromKey)
	if err != nil {
		return fmt.Errorf("failed to demote leader: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qerrors.ErrNotLeader
	}

	res, err = tx.Exec(`UPDATE guild_members SET role = 'leader' WHERE guild_id = ? AND player_key = ?`,
		guildID, toKey)
	if err != nil {
		return fmt.Errorf("failed to promote member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qerrors.ErrNotFound
	}

	if _, err := tx.Exec(`UPDATE guilds SET leader_key = ? WHERE id = ?`, toKey, guildID); err != nil {
		return fmt.Errorf("failed to update guild leader: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

// RenameGuild renames an active guild. Returns ErrConflict when the name is
// taken by another active guild.
func (s *Store) RenameGuild(guildID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE guilds SET name = ? WHERE id = ? AND is_active = 1`, name, guildID)
	if isUniqueViolation(err) {
		return qerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to rename guild: %w", err)
	}
	return nil
}

// DeactivateGuild marks a guild inactive, clears its leader and removes all
// members in one transaction.
func (s *Store) DeactivateGuild(guildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE guilds SET is_active = 0, leader_key = NULL WHERE id = ?`, guildID); err != nil {
		return fmt.Errorf("failed to deactivate guild: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM guild_members WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deactivation: %w", err)
	}
	return nil
}

// IncrementGuildTickets bumps the completed-ticket counter for a guild.
func (s *Store) IncrementGuildTickets(guildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE guilds SET total_tickets = total_tickets + 1 WHERE id = ?`, guildID)
	if err != nil {
		return fmt.Errorf("failed to increment guild tickets: %w", err)
	}
	return nil
}
