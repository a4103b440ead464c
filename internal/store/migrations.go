package store

import "fmt"

// migrate creates the database schema.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			key TEXT PRIMARY KEY,
			tracker_account_id TEXT,
			email TEXT,
			display_name TEXT NOT NULL DEFAULT '',
			slack_user_id TEXT,
			xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			current_title TEXT NOT NULL DEFAULT 'Novice Adventurer',
			total_tickets INTEGER NOT NULL DEFAULT 0,
			total_bugs INTEGER NOT NULL DEFAULT 0,
			auto_created INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_account_id ON players(tracker_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_players_email ON players(email)`,
		`CREATE INDEX IF NOT EXISTS idx_players_slack ON players(slack_user_id)`,
		`CREATE TABLE IF NOT EXISTS guilds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			leader_key TEXT,
			components TEXT NOT NULL DEFAULT '[]',
			labels TEXT NOT NULL DEFAULT '[]',
			project_key TEXT,
			total_tickets INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			max_members INTEGER NOT NULL DEFAULT 20,
			allow_auto_join INTEGER NOT NULL DEFAULT 1,
			created_by TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_guilds_channel ON guilds(channel_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_guilds_name_active ON guilds(name) WHERE is_active = 1`,
		`CREATE TABLE IF NOT EXISTS guild_members (
			guild_id INTEGER NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			player_key TEXT NOT NULL REFERENCES players(key),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, player_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_player ON guild_members(player_key)`,
		`CREATE TABLE IF NOT EXISTS stories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_key TEXT NOT NULL,
			issue_key TEXT NOT NULL,
			status TEXT NOT NULL,
			narrative TEXT NOT NULL,
			loot TEXT,
			achievement TEXT,
			snapshot TEXT NOT NULL DEFAULT '{}',
			award TEXT NOT NULL DEFAULT '{}',
			delivered_to TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			UNIQUE(player_key, issue_key, status)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_player ON stories(player_key, created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
