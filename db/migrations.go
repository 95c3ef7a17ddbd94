package db

import (
	"fmt"
	"log"
)

// Schema for the federation ingestion pipeline. Every table is created
// idempotently; RunMigrations is safe to call on every start.
const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL,
		actor_type TEXT NOT NULL DEFAULT 'Person',
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		outbox_uri TEXT NOT NULL DEFAULT '',
		followers_uri TEXT NOT NULL DEFAULT '',
		featured_uri TEXT NOT NULL DEFAULT '',
		featured_tags_uri TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		header_url TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		public_key_id TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		protocol TEXT NOT NULL DEFAULT 'activitypub',
		locked INTEGER NOT NULL DEFAULT 0,
		discoverable INTEGER NOT NULL DEFAULT 0,
		hide_collections INTEGER NOT NULL DEFAULT 0,
		moved_to_uri TEXT NOT NULL DEFAULT '',
		also_known_as TEXT NOT NULL DEFAULT '[]',
		fields TEXT NOT NULL DEFAULT '[]',
		followers_count INTEGER NOT NULL DEFAULT 0,
		suspended INTEGER NOT NULL DEFAULT 0,
		suspension_origin TEXT NOT NULL DEFAULT '',
		remote_created_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_fetched_at TIMESTAMP,
		last_webfingered_at TIMESTAMP
	)`

	// uri is deliberately not UNIQUE: duplicate rows for one uri can appear
	// through races with older data and are repaired by the merge job.
	sqlCreateAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_accounts_uri ON accounts(uri);
		CREATE INDEX IF NOT EXISTS idx_accounts_acct ON accounts(username, domain);
		CREATE INDEX IF NOT EXISTS idx_accounts_domain ON accounts(domain);
	`

	sqlCreateStatusesTable = `CREATE TABLE IF NOT EXISTS statuses (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		account_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		spoiler_text TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		sensitive INTEGER NOT NULL DEFAULT 0,
		in_reply_to_id TEXT,
		in_reply_to_uri TEXT NOT NULL DEFAULT '',
		poll_id TEXT,
		preview_card_url TEXT NOT NULL DEFAULT '',
		local INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP,
		fetched_at TIMESTAMP
	)`

	sqlCreateStatusesIndices = `
		CREATE INDEX IF NOT EXISTS idx_statuses_account_id ON statuses(account_id);
		CREATE INDEX IF NOT EXISTS idx_statuses_in_reply_to_uri ON statuses(in_reply_to_uri);
		CREATE INDEX IF NOT EXISTS idx_statuses_created_at ON statuses(created_at DESC);
	`

	sqlCreateStatusEditsTable = `CREATE TABLE IF NOT EXISTS status_edits (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		spoiler_text TEXT NOT NULL DEFAULT '',
		sensitive INTEGER NOT NULL DEFAULT 0,
		media_descriptions TEXT NOT NULL DEFAULT '[]',
		poll_options TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateStatusEditsIndices = `
		CREATE INDEX IF NOT EXISTS idx_status_edits_status_id ON status_edits(status_id);
	`

	sqlCreateMediaTable = `CREATE TABLE IF NOT EXISTS media_attachments (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		remote_url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		focal_point TEXT NOT NULL DEFAULT '',
		blurhash TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		downloaded INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateMediaIndices = `
		CREATE INDEX IF NOT EXISTS idx_media_status_id ON media_attachments(status_id);
		CREATE INDEX IF NOT EXISTS idx_media_remote_url ON media_attachments(remote_url);
	`

	sqlCreateMentionsTable = `CREATE TABLE IF NOT EXISTS mentions (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		target_uri TEXT NOT NULL,
		silent INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(status_id, account_id)
	)`

	sqlCreateStatusTagsTable = `CREATE TABLE IF NOT EXISTS status_tags (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE(status_id, name)
	)`

	sqlCreateEmojisTable = `CREATE TABLE IF NOT EXISTS custom_emojis (
		id TEXT NOT NULL PRIMARY KEY,
		shortcode TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(shortcode, domain)
	)`

	sqlCreatePollsTable = `CREATE TABLE IF NOT EXISTS polls (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		multiple INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		voters_count INTEGER NOT NULL DEFAULT 0,
		cached_tallies TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 0,
		last_fetched_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePollVotesTable = `CREATE TABLE IF NOT EXISTS poll_votes (
		id TEXT NOT NULL PRIMARY KEY,
		poll_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		choice INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePollVotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_poll_votes_poll_id ON poll_votes(poll_id);
	`

	sqlCreateQuotesTable = `CREATE TABLE IF NOT EXISTS quotes (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT UNIQUE NOT NULL,
		quoted_status_id TEXT,
		quoted_uri TEXT NOT NULL DEFAULT '',
		approval_uri TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		verified_at TIMESTAMP
	)`

	sqlCreateFeaturedTagsTable = `CREATE TABLE IF NOT EXISTS featured_tags (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, name)
	)`

	sqlCreateStatusPinsTable = `CREATE TABLE IF NOT EXISTS status_pins (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, status_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		accepted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, target_account_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_account_id ON follows(account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_processed ON activities(processed);
	`

	sqlCreateJobsTable = `CREATE TABLE IF NOT EXISTS jobs (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '[]',
		run_at TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateJobsIndices = `
		CREATE INDEX IF NOT EXISTS idx_jobs_run_at ON jobs(run_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_username TEXT NOT NULL DEFAULT '',
		actor_domain TEXT NOT NULL DEFAULT '',
		status_id TEXT,
		status_uri TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateKeyTombstonesTable = `CREATE TABLE IF NOT EXISTS key_tombstones (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL,
		key_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_uri, key_id)
	)`
)

// RunMigrations creates all tables and indices used by the ingestion
// pipeline.
func (db *DB) RunMigrations() error {
	statements := []string{
		sqlCreateAccountsTable,
		sqlCreateAccountsIndices,
		sqlCreateStatusesTable,
		sqlCreateStatusesIndices,
		sqlCreateStatusEditsTable,
		sqlCreateStatusEditsIndices,
		sqlCreateMediaTable,
		sqlCreateMediaIndices,
		sqlCreateMentionsTable,
		sqlCreateStatusTagsTable,
		sqlCreateEmojisTable,
		sqlCreatePollsTable,
		sqlCreatePollVotesTable,
		sqlCreatePollVotesIndices,
		sqlCreateQuotesTable,
		sqlCreateFeaturedTagsTable,
		sqlCreateStatusPinsTable,
		sqlCreateFollowsTable,
		sqlCreateFollowsIndices,
		sqlCreateActivitiesTable,
		sqlCreateActivitiesIndices,
		sqlCreateJobsTable,
		sqlCreateJobsIndices,
		sqlCreateDeliveryQueueTable,
		sqlCreateDeliveryQueueIndices,
		sqlCreateNotificationsTable,
		sqlCreateKeyTombstonesTable,
	}

	for _, stmt := range statements {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("Database migrations complete")
	return nil
}
