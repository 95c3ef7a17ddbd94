package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// ErrVersionConflict is returned by UpdatePollVersioned when another writer
// saved the poll first. Callers re-read and retry.
var ErrVersionConflict = errors.New("version conflict")

const (
	accountColumns = `id, username, domain, uri, actor_type, display_name, summary, url,
		inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, featured_uri, featured_tags_uri,
		avatar_url, header_url, public_key_pem, public_key_id, private_key_pem, protocol,
		locked, discoverable, hide_collections, moved_to_uri, also_known_as, fields, followers_count,
		suspended, suspension_origin, remote_created_at, created_at, last_fetched_at, last_webfingered_at`

	statusColumns = `id, uri, account_id, text, spoiler_text, language, visibility, sensitive,
		in_reply_to_id, in_reply_to_uri, poll_id, preview_card_url, local, created_at, edited_at, fetched_at`

	sqlInsertAccount = `INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateAccount = `UPDATE accounts SET username = ?, domain = ?, uri = ?, actor_type = ?,
		display_name = ?, summary = ?, url = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?,
		followers_uri = ?, featured_uri = ?, featured_tags_uri = ?, avatar_url = ?, header_url = ?,
		public_key_pem = ?, public_key_id = ?, protocol = ?, locked = ?, discoverable = ?,
		hide_collections = ?, moved_to_uri = ?, also_known_as = ?, fields = ?, followers_count = ?,
		suspended = ?, suspension_origin = ?, remote_created_at = ?, last_fetched_at = ?,
		last_webfingered_at = ? WHERE id = ?`

	sqlSelectAccountByURI      = `SELECT ` + accountColumns + ` FROM accounts WHERE uri = ? LIMIT 1`
	sqlSelectAccountsByURI     = `SELECT ` + accountColumns + ` FROM accounts WHERE uri = ?`
	sqlSelectAccountById       = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	sqlSelectAccountByAcct     = `SELECT ` + accountColumns + ` FROM accounts WHERE username = ? COLLATE NOCASE AND domain = ? AND suspended = 0 LIMIT 1`
	sqlSelectLocalAccountByUsr = `SELECT ` + accountColumns + ` FROM accounts WHERE username = ? COLLATE NOCASE AND domain = '' LIMIT 1`

	sqlInsertStatus = `INSERT INTO statuses (` + statusColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateStatus = `UPDATE statuses SET text = ?, spoiler_text = ?, language = ?, visibility = ?,
		sensitive = ?, in_reply_to_id = ?, in_reply_to_uri = ?, poll_id = ?, preview_card_url = ?,
		edited_at = ?, fetched_at = ? WHERE id = ?`

	sqlSelectStatusByURI          = `SELECT ` + statusColumns + ` FROM statuses WHERE uri = ?`
	sqlSelectStatusById           = `SELECT ` + statusColumns + ` FROM statuses WHERE id = ?`
	sqlDeleteStatus               = `DELETE FROM statuses WHERE id = ?`
	sqlSelectRecentPublicStatuses = `SELECT ` + statusColumns + ` FROM statuses
		WHERE visibility = 'public' ORDER BY created_at DESC LIMIT ?`
)

func GetDB() *DB {
	dbOnce.Do(func() {
		dbPath := util.ResolveFilePath("database.db")
		log.Printf("Using database at: %s", dbPath)

		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			panic(err)
		}

		// Configure connection pool for concurrent access
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}

		// PRAGMAs tuned for the concurrent ingestion workload
		db.Exec("PRAGMA synchronous = NORMAL")
		db.Exec("PRAGMA cache_size = -64000")
		db.Exec("PRAGMA temp_store = MEMORY")
		db.Exec("PRAGMA busy_timeout = 5000")
		db.Exec("PRAGMA foreign_keys = ON")

		dbInstance = &DB{db: db}

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction, retrying on
// SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

func marshalStrings(s []string) string {
	if s == nil {
		s = []string{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}

func marshalFields(f []domain.ActorField) string {
	if f == nil {
		f = []domain.ActorField{}
	}
	b, _ := json.Marshal(f)
	return string(b)
}

func unmarshalFields(s string) []domain.ActorField {
	var out []domain.ActorField
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []domain.ActorField{}
	}
	return out
}

func marshalInts(s []int) string {
	if s == nil {
		s = []int{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func unmarshalInts(s string) []int {
	var out []int
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []int{}
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func uuidPtr(ns sql.NullString) *uuid.UUID {
	if !ns.Valid {
		return nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &id
}

// Account operations

func (db *DB) scanAccount(row interface{ Scan(...any) error }) (error, *domain.Actor) {
	var a domain.Actor
	var idStr, alsoKnownAs, fields string
	var remoteCreated, lastFetched, lastWebfingered sql.NullTime
	err := row.Scan(&idStr, &a.Username, &a.Domain, &a.URI, &a.ActorType, &a.DisplayName,
		&a.Summary, &a.URL, &a.InboxURI, &a.SharedInboxURI, &a.OutboxURI, &a.FollowersURI,
		&a.FeaturedURI, &a.FeaturedTagsURI, &a.AvatarURL, &a.HeaderURL, &a.PublicKeyPem,
		&a.PublicKeyId, &a.PrivateKeyPem, &a.Protocol, &a.Locked, &a.Discoverable,
		&a.HideCollections, &a.MovedToURI, &alsoKnownAs, &fields, &a.FollowersCount, &a.Suspended,
		&a.SuspensionOrigin, &remoteCreated, &a.CreatedAt, &lastFetched, &lastWebfingered)
	if err != nil {
		return err, nil
	}
	a.Id, err = uuid.Parse(idStr)
	if err != nil {
		return err, nil
	}
	a.AlsoKnownAs = unmarshalStrings(alsoKnownAs)
	a.Fields = unmarshalFields(fields)
	if remoteCreated.Valid {
		a.RemoteCreatedAt = remoteCreated.Time
	}
	if lastFetched.Valid {
		a.LastFetchedAt = lastFetched.Time
	}
	if lastWebfingered.Valid {
		a.LastWebfingeredAt = lastWebfingered.Time
	}
	return nil, &a
}

func (db *DB) CreateActor(a *domain.Actor) error {
	_, err := db.db.Exec(sqlInsertAccount,
		a.Id.String(), a.Username, a.Domain, a.URI, a.ActorType, a.DisplayName, a.Summary,
		a.URL, a.InboxURI, a.SharedInboxURI, a.OutboxURI, a.FollowersURI, a.FeaturedURI,
		a.FeaturedTagsURI, a.AvatarURL, a.HeaderURL, a.PublicKeyPem, a.PublicKeyId,
		a.PrivateKeyPem, a.Protocol, a.Locked, a.Discoverable, a.HideCollections,
		a.MovedToURI, marshalStrings(a.AlsoKnownAs), marshalFields(a.Fields), a.FollowersCount,
		a.Suspended, a.SuspensionOrigin, a.RemoteCreatedAt, a.CreatedAt, a.LastFetchedAt,
		a.LastWebfingeredAt)
	return err
}

func (db *DB) UpdateActor(a *domain.Actor) error {
	_, err := db.db.Exec(sqlUpdateAccount,
		a.Username, a.Domain, a.URI, a.ActorType, a.DisplayName, a.Summary, a.URL,
		a.InboxURI, a.SharedInboxURI, a.OutboxURI, a.FollowersURI, a.FeaturedURI,
		a.FeaturedTagsURI, a.AvatarURL, a.HeaderURL, a.PublicKeyPem, a.PublicKeyId,
		a.Protocol, a.Locked, a.Discoverable, a.HideCollections, a.MovedToURI,
		marshalStrings(a.AlsoKnownAs), marshalFields(a.Fields), a.FollowersCount, a.Suspended,
		a.SuspensionOrigin, a.RemoteCreatedAt, a.LastFetchedAt, a.LastWebfingeredAt, a.Id.String())
	return err
}

func (db *DB) DeleteActor(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM accounts WHERE id = ?`, id.String())
	return err
}

func (db *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByURI, uri))
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id.String()))
}

func (db *DB) ReadActorByAcct(username, dom string) (error, *domain.Actor) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByAcct, username, dom))
}

func (db *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return db.scanAccount(db.db.QueryRow(sqlSelectLocalAccountByUsr, username))
}

// ReadActorsByURI returns every row claiming the uri; more than one means a
// duplicate that the merge job should repair.
func (db *DB) ReadActorsByURI(uri string) (error, *[]domain.Actor) {
	rows, err := db.db.Query(sqlSelectAccountsByURI, uri)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var actors []domain.Actor
	for rows.Next() {
		err, a := db.scanAccount(rows)
		if err != nil {
			return err, nil
		}
		actors = append(actors, *a)
	}
	return rows.Err(), &actors
}

// Status operations

func (db *DB) scanStatus(row interface{ Scan(...any) error }) (error, *domain.Status) {
	var s domain.Status
	var idStr, accountIdStr string
	var inReplyTo, pollId sql.NullString
	var editedAt, fetchedAt sql.NullTime
	err := row.Scan(&idStr, &s.URI, &accountIdStr, &s.Text, &s.SpoilerText, &s.Language,
		&s.Visibility, &s.Sensitive, &inReplyTo, &s.InReplyToURI, &pollId, &s.PreviewCardURL,
		&s.Local, &s.CreatedAt, &editedAt, &fetchedAt)
	if err != nil {
		return err, nil
	}
	if s.Id, err = uuid.Parse(idStr); err != nil {
		return err, nil
	}
	if s.AccountId, err = uuid.Parse(accountIdStr); err != nil {
		return err, nil
	}
	s.InReplyToId = uuidPtr(inReplyTo)
	s.PollId = uuidPtr(pollId)
	s.EditedAt = timePtr(editedAt)
	if fetchedAt.Valid {
		s.FetchedAt = fetchedAt.Time
	}
	return nil, &s
}

func (db *DB) CreateStatus(s *domain.Status) error {
	_, err := db.db.Exec(sqlInsertStatus,
		s.Id.String(), s.URI, s.AccountId.String(), s.Text, s.SpoilerText, s.Language,
		s.Visibility, s.Sensitive, nullUUID(s.InReplyToId), s.InReplyToURI, nullUUID(s.PollId),
		s.PreviewCardURL, s.Local, s.CreatedAt, nullTime(s.EditedAt), s.FetchedAt)
	return err
}

func (db *DB) UpdateStatus(s *domain.Status) error {
	_, err := db.db.Exec(sqlUpdateStatus,
		s.Text, s.SpoilerText, s.Language, s.Visibility, s.Sensitive, nullUUID(s.InReplyToId),
		s.InReplyToURI, nullUUID(s.PollId), s.PreviewCardURL, nullTime(s.EditedAt), s.FetchedAt,
		s.Id.String())
	return err
}

func (db *DB) ReadStatusByURI(uri string) (error, *domain.Status) {
	return db.scanStatus(db.db.QueryRow(sqlSelectStatusByURI, uri))
}

func (db *DB) ReadStatusById(id uuid.UUID) (error, *domain.Status) {
	return db.scanStatus(db.db.QueryRow(sqlSelectStatusById, id.String()))
}

func (db *DB) DeleteStatus(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		idStr := id.String()
		if _, err := tx.Exec(sqlDeleteStatus, idStr); err != nil {
			return err
		}
		tx.Exec(`DELETE FROM media_attachments WHERE status_id = ?`, idStr)
		tx.Exec(`DELETE FROM mentions WHERE status_id = ?`, idStr)
		tx.Exec(`DELETE FROM status_tags WHERE status_id = ?`, idStr)
		tx.Exec(`DELETE FROM quotes WHERE status_id = ?`, idStr)
		return nil
	})
}

func (db *DB) ReadRecentPublicStatuses(limit int) (error, *[]domain.Status) {
	rows, err := db.db.Query(sqlSelectRecentPublicStatuses, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var statuses []domain.Status
	for rows.Next() {
		err, s := db.scanStatus(rows)
		if err != nil {
			return err, nil
		}
		statuses = append(statuses, *s)
	}
	return rows.Err(), &statuses
}

// Status edit operations

func (db *DB) CreateStatusEdit(e *domain.StatusEdit) error {
	_, err := db.db.Exec(`INSERT INTO status_edits (id, status_id, text, spoiler_text, sensitive, media_descriptions, poll_options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Id.String(), e.StatusId.String(), e.Text, e.SpoilerText, e.Sensitive,
		marshalStrings(e.MediaDescriptions), marshalStrings(e.PollOptions), e.CreatedAt)
	return err
}

func (db *DB) CountStatusEdits(statusId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM status_edits WHERE status_id = ?`, statusId.String()).Scan(&n)
	return n, err
}

// Media operations

func (db *DB) scanMedia(row interface{ Scan(...any) error }) (error, *domain.MediaAttachment) {
	var m domain.MediaAttachment
	var idStr, statusIdStr string
	err := row.Scan(&idStr, &statusIdStr, &m.RemoteURL, &m.Description, &m.FocalPoint,
		&m.Blurhash, &m.MediaType, &m.Downloaded, &m.Position, &m.CreatedAt)
	if err != nil {
		return err, nil
	}
	if m.Id, err = uuid.Parse(idStr); err != nil {
		return err, nil
	}
	if m.StatusId, err = uuid.Parse(statusIdStr); err != nil {
		return err, nil
	}
	return nil, &m
}

func (db *DB) CreateMediaAttachment(m *domain.MediaAttachment) error {
	_, err := db.db.Exec(`INSERT INTO media_attachments (id, status_id, remote_url, description, focal_point, blurhash, media_type, downloaded, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Id.String(), m.StatusId.String(), m.RemoteURL, m.Description, m.FocalPoint,
		m.Blurhash, m.MediaType, m.Downloaded, m.Position, m.CreatedAt)
	return err
}

func (db *DB) UpdateMediaAttachment(m *domain.MediaAttachment) error {
	_, err := db.db.Exec(`UPDATE media_attachments SET description = ?, focal_point = ?, blurhash = ?, media_type = ?, downloaded = ?, position = ? WHERE id = ?`,
		m.Description, m.FocalPoint, m.Blurhash, m.MediaType, m.Downloaded, m.Position, m.Id.String())
	return err
}

func (db *DB) DeleteMediaAttachment(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM media_attachments WHERE id = ?`, id.String())
	return err
}

func (db *DB) ReadMediaByStatusId(statusId uuid.UUID) (error, *[]domain.MediaAttachment) {
	rows, err := db.db.Query(`SELECT id, status_id, remote_url, description, focal_point, blurhash, media_type, downloaded, position, created_at
		FROM media_attachments WHERE status_id = ? ORDER BY position ASC`, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var media []domain.MediaAttachment
	for rows.Next() {
		err, m := db.scanMedia(rows)
		if err != nil {
			return err, nil
		}
		media = append(media, *m)
	}
	return rows.Err(), &media
}

// Mention operations

func (db *DB) CreateMention(m *domain.Mention) error {
	_, err := db.db.Exec(`INSERT INTO mentions (id, status_id, account_id, target_uri, silent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Id.String(), m.StatusId.String(), m.AccountId.String(), m.TargetURI, m.Silent, m.CreatedAt)
	return err
}

func (db *DB) UpdateMention(m *domain.Mention) error {
	_, err := db.db.Exec(`UPDATE mentions SET silent = ? WHERE id = ?`, m.Silent, m.Id.String())
	return err
}

func (db *DB) ReadMentionsByStatusId(statusId uuid.UUID) (error, *[]domain.Mention) {
	rows, err := db.db.Query(`SELECT id, status_id, account_id, target_uri, silent, created_at
		FROM mentions WHERE status_id = ?`, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var mentions []domain.Mention
	for rows.Next() {
		var m domain.Mention
		var idStr, statusIdStr, accountIdStr string
		if err := rows.Scan(&idStr, &statusIdStr, &accountIdStr, &m.TargetURI, &m.Silent, &m.CreatedAt); err != nil {
			return err, nil
		}
		m.Id, _ = uuid.Parse(idStr)
		m.StatusId, _ = uuid.Parse(statusIdStr)
		m.AccountId, _ = uuid.Parse(accountIdStr)
		mentions = append(mentions, m)
	}
	return rows.Err(), &mentions
}

// Tag operations

func (db *DB) CreateStatusTag(t *domain.StatusTag) error {
	_, err := db.db.Exec(`INSERT OR IGNORE INTO status_tags (id, status_id, name) VALUES (?, ?, ?)`,
		t.Id.String(), t.StatusId.String(), t.Name)
	return err
}

func (db *DB) DeleteStatusTagsByStatusId(statusId uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM status_tags WHERE status_id = ?`, statusId.String())
	return err
}

func (db *DB) ReadTagsByStatusId(statusId uuid.UUID) (error, *[]domain.StatusTag) {
	rows, err := db.db.Query(`SELECT id, status_id, name FROM status_tags WHERE status_id = ?`, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var tags []domain.StatusTag
	for rows.Next() {
		var t domain.StatusTag
		var idStr, statusIdStr string
		if err := rows.Scan(&idStr, &statusIdStr, &t.Name); err != nil {
			return err, nil
		}
		t.Id, _ = uuid.Parse(idStr)
		t.StatusId, _ = uuid.Parse(statusIdStr)
		tags = append(tags, t)
	}
	return rows.Err(), &tags
}

// Emoji operations

func (db *DB) ReadEmojiByShortcode(shortcode, dom string) (error, *domain.CustomEmoji) {
	var e domain.CustomEmoji
	var idStr string
	var updatedAt sql.NullTime
	err := db.db.QueryRow(`SELECT id, shortcode, domain, image_url, updated_at, created_at
		FROM custom_emojis WHERE shortcode = ? AND domain = ?`, shortcode, dom).
		Scan(&idStr, &e.Shortcode, &e.Domain, &e.ImageURL, &updatedAt, &e.CreatedAt)
	if err != nil {
		return err, nil
	}
	e.Id, _ = uuid.Parse(idStr)
	if updatedAt.Valid {
		e.UpdatedAt = updatedAt.Time
	}
	return nil, &e
}

func (db *DB) CreateEmoji(e *domain.CustomEmoji) error {
	_, err := db.db.Exec(`INSERT INTO custom_emojis (id, shortcode, domain, image_url, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Id.String(), e.Shortcode, e.Domain, e.ImageURL, e.UpdatedAt, e.CreatedAt)
	return err
}

func (db *DB) UpdateEmoji(e *domain.CustomEmoji) error {
	_, err := db.db.Exec(`UPDATE custom_emojis SET image_url = ?, updated_at = ? WHERE id = ?`,
		e.ImageURL, e.UpdatedAt, e.Id.String())
	return err
}

// Poll operations

func (db *DB) ReadPollById(id uuid.UUID) (error, *domain.Poll) {
	var p domain.Poll
	var idStr, statusIdStr, options, tallies string
	var expiresAt, lastFetched sql.NullTime
	err := db.db.QueryRow(`SELECT id, status_id, options, multiple, expires_at, voters_count, cached_tallies, version, last_fetched_at, created_at
		FROM polls WHERE id = ?`, id.String()).
		Scan(&idStr, &statusIdStr, &options, &p.Multiple, &expiresAt, &p.VotersCount, &tallies, &p.Version, &lastFetched, &p.CreatedAt)
	if err != nil {
		return err, nil
	}
	p.Id, _ = uuid.Parse(idStr)
	p.StatusId, _ = uuid.Parse(statusIdStr)
	p.Options = unmarshalStrings(options)
	p.CachedTallies = unmarshalInts(tallies)
	p.ExpiresAt = timePtr(expiresAt)
	if lastFetched.Valid {
		p.LastFetchedAt = lastFetched.Time
	}
	return nil, &p
}

func (db *DB) CreatePoll(p *domain.Poll) error {
	_, err := db.db.Exec(`INSERT INTO polls (id, status_id, options, multiple, expires_at, voters_count, cached_tallies, version, last_fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Id.String(), p.StatusId.String(), marshalStrings(p.Options), p.Multiple,
		nullTime(p.ExpiresAt), p.VotersCount, marshalInts(p.CachedTallies), p.Version,
		p.LastFetchedAt, p.CreatedAt)
	return err
}

// UpdatePollVersioned saves the poll only when nobody else saved it since it
// was read. On conflict it returns ErrVersionConflict.
func (db *DB) UpdatePollVersioned(p *domain.Poll) error {
	res, err := db.db.Exec(`UPDATE polls SET options = ?, multiple = ?, expires_at = ?, voters_count = ?, cached_tallies = ?, version = version + 1, last_fetched_at = ?
		WHERE id = ? AND version = ?`,
		marshalStrings(p.Options), p.Multiple, nullTime(p.ExpiresAt), p.VotersCount,
		marshalInts(p.CachedTallies), p.LastFetchedAt, p.Id.String(), p.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

func (db *DB) DeleteVotesByPollId(pollId uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM poll_votes WHERE poll_id = ?`, pollId.String())
	return err
}

func (db *DB) CountVotesByPollId(pollId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM poll_votes WHERE poll_id = ?`, pollId.String()).Scan(&n)
	return n, err
}

// Quote operations

func (db *DB) ReadQuoteByStatusId(statusId uuid.UUID) (error, *domain.Quote) {
	var q domain.Quote
	var idStr, statusIdStr string
	var quotedStatusId sql.NullString
	var verifiedAt sql.NullTime
	err := db.db.QueryRow(`SELECT id, status_id, quoted_status_id, quoted_uri, approval_uri, state, created_at, verified_at
		FROM quotes WHERE status_id = ?`, statusId.String()).
		Scan(&idStr, &statusIdStr, &quotedStatusId, &q.QuotedURI, &q.ApprovalURI, &q.State, &q.CreatedAt, &verifiedAt)
	if err != nil {
		return err, nil
	}
	q.Id, _ = uuid.Parse(idStr)
	q.StatusId, _ = uuid.Parse(statusIdStr)
	q.QuotedStatusId = uuidPtr(quotedStatusId)
	q.VerifiedAt = timePtr(verifiedAt)
	return nil, &q
}

func (db *DB) CreateQuote(q *domain.Quote) error {
	_, err := db.db.Exec(`INSERT INTO quotes (id, status_id, quoted_status_id, quoted_uri, approval_uri, state, created_at, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Id.String(), q.StatusId.String(), nullUUID(q.QuotedStatusId), q.QuotedURI,
		q.ApprovalURI, q.State, q.CreatedAt, nullTime(q.VerifiedAt))
	return err
}

func (db *DB) UpdateQuote(q *domain.Quote) error {
	_, err := db.db.Exec(`UPDATE quotes SET quoted_status_id = ?, quoted_uri = ?, approval_uri = ?, state = ?, verified_at = ? WHERE id = ?`,
		nullUUID(q.QuotedStatusId), q.QuotedURI, q.ApprovalURI, q.State, nullTime(q.VerifiedAt), q.Id.String())
	return err
}

// Featured tag operations

func (db *DB) ReadFeaturedTagsByAccountId(accountId uuid.UUID) (error, *[]domain.FeaturedTag) {
	rows, err := db.db.Query(`SELECT id, account_id, name, created_at FROM featured_tags WHERE account_id = ?`, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var tags []domain.FeaturedTag
	for rows.Next() {
		var t domain.FeaturedTag
		var idStr, accountIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &t.Name, &t.CreatedAt); err != nil {
			return err, nil
		}
		t.Id, _ = uuid.Parse(idStr)
		t.AccountId, _ = uuid.Parse(accountIdStr)
		tags = append(tags, t)
	}
	return rows.Err(), &tags
}

func (db *DB) CreateFeaturedTag(t *domain.FeaturedTag) error {
	_, err := db.db.Exec(`INSERT OR IGNORE INTO featured_tags (id, account_id, name, created_at) VALUES (?, ?, ?, ?)`,
		t.Id.String(), t.AccountId.String(), t.Name, t.CreatedAt)
	return err
}

func (db *DB) DeleteFeaturedTag(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM featured_tags WHERE id = ?`, id.String())
	return err
}

// Status pin operations

func (db *DB) ReadPinsByAccountId(accountId uuid.UUID) (error, *[]domain.StatusPin) {
	rows, err := db.db.Query(`SELECT id, account_id, status_id, created_at FROM status_pins WHERE account_id = ?`, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var pins []domain.StatusPin
	for rows.Next() {
		var p domain.StatusPin
		var idStr, accountIdStr, statusIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &statusIdStr, &p.CreatedAt); err != nil {
			return err, nil
		}
		p.Id, _ = uuid.Parse(idStr)
		p.AccountId, _ = uuid.Parse(accountIdStr)
		p.StatusId, _ = uuid.Parse(statusIdStr)
		pins = append(pins, p)
	}
	return rows.Err(), &pins
}

func (db *DB) CreateStatusPin(p *domain.StatusPin) error {
	_, err := db.db.Exec(`INSERT OR IGNORE INTO status_pins (id, account_id, status_id, created_at) VALUES (?, ?, ?, ?)`,
		p.Id.String(), p.AccountId.String(), p.StatusId.String(), p.CreatedAt)
	return err
}

func (db *DB) DeleteStatusPin(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM status_pins WHERE id = ?`, id.String())
	return err
}

// Follow operations

func (db *DB) scanFollow(row interface{ Scan(...any) error }) (error, *domain.Follow) {
	var f domain.Follow
	var idStr, accountIdStr, targetIdStr string
	err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &f.URI, &f.Accepted, &f.CreatedAt)
	if err != nil {
		return err, nil
	}
	f.Id, _ = uuid.Parse(idStr)
	f.AccountId, _ = uuid.Parse(accountIdStr)
	f.TargetAccountId, _ = uuid.Parse(targetIdStr)
	return nil, &f
}

func (db *DB) CreateFollow(f *domain.Follow) error {
	_, err := db.db.Exec(`INSERT INTO follows (id, account_id, target_account_id, uri, accepted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.Id.String(), f.AccountId.String(), f.TargetAccountId.String(), f.URI, f.Accepted, f.CreatedAt)
	return err
}

func (db *DB) DeleteFollow(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM follows WHERE id = ?`, id.String())
	return err
}

func (db *DB) DeleteFollowByURI(uri string) error {
	_, err := db.db.Exec(`DELETE FROM follows WHERE uri = ?`, uri)
	return err
}

func (db *DB) AcceptFollowByURI(uri string) error {
	_, err := db.db.Exec(`UPDATE follows SET accepted = 1 WHERE uri = ?`, uri)
	return err
}

func (db *DB) ReadFollowByAccountIds(accountId, targetAccountId uuid.UUID) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(`SELECT id, account_id, target_account_id, uri, accepted, created_at
		FROM follows WHERE account_id = ? AND target_account_id = ?`,
		accountId.String(), targetAccountId.String()))
}

// ReadFollowsByTargetAccountId returns everyone following the given account.
func (db *DB) ReadFollowsByTargetAccountId(targetId uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(`SELECT id, account_id, target_account_id, uri, accepted, created_at
		FROM follows WHERE target_account_id = ?`, targetId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var follows []domain.Follow
	for rows.Next() {
		err, f := db.scanFollow(rows)
		if err != nil {
			return err, nil
		}
		follows = append(follows, *f)
	}
	return rows.Err(), &follows
}

// ReadFollowsByAccountId returns everyone the given account follows.
func (db *DB) ReadFollowsByAccountId(accountId uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(`SELECT id, account_id, target_account_id, uri, accepted, created_at
		FROM follows WHERE account_id = ?`, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var follows []domain.Follow
	for rows.Next() {
		err, f := db.scanFollow(rows)
		if err != nil {
			return err, nil
		}
		follows = append(follows, *f)
	}
	return rows.Err(), &follows
}

// Activity log operations

func (db *DB) CreateActivity(a *domain.Activity) error {
	_, err := db.db.Exec(`INSERT INTO activities (id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Id.String(), a.ActivityURI, a.ActivityType, a.ActorURI, a.ObjectURI, a.RawJSON,
		a.Processed, a.Local, a.CreatedAt)
	return err
}

func (db *DB) UpdateActivity(a *domain.Activity) error {
	_, err := db.db.Exec(`UPDATE activities SET raw_json = ?, processed = ? WHERE id = ?`,
		a.RawJSON, a.Processed, a.Id.String())
	return err
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	var a domain.Activity
	var idStr string
	err := db.db.QueryRow(`SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at
		FROM activities WHERE activity_uri = ?`, uri).
		Scan(&idStr, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &a.ObjectURI, &a.RawJSON, &a.Processed, &a.Local, &a.CreatedAt)
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(idStr)
	return nil, &a
}

// Job queue operations

func (db *DB) EnqueueJob(j *domain.Job) error {
	_, err := db.db.Exec(`INSERT INTO jobs (id, kind, args, run_at, attempts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		j.Id.String(), j.Kind, j.Args, j.RunAt, j.Attempts, j.CreatedAt)
	return err
}

func (db *DB) ReadDueJobs(limit int) (error, *[]domain.Job) {
	rows, err := db.db.Query(`SELECT id, kind, args, run_at, attempts, created_at FROM jobs
		WHERE run_at <= ? ORDER BY run_at ASC LIMIT ?`, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		var idStr string
		if err := rows.Scan(&idStr, &j.Kind, &j.Args, &j.RunAt, &j.Attempts, &j.CreatedAt); err != nil {
			return err, nil
		}
		j.Id, _ = uuid.Parse(idStr)
		jobs = append(jobs, j)
	}
	return rows.Err(), &jobs
}

func (db *DB) UpdateJobAttempt(id uuid.UUID, attempts int, runAt time.Time) error {
	_, err := db.db.Exec(`UPDATE jobs SET attempts = ?, run_at = ? WHERE id = ?`, attempts, runAt, id.String())
	return err
}

func (db *DB) DeleteJob(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM jobs WHERE id = ?`, id.String())
	return err
}

// DeleteJobsByKindAndArgs removes scheduled jobs of a kind whose args match
// exactly. Used to cancel a superseded poll-expiration notification.
func (db *DB) DeleteJobsByKindAndArgs(kind, args string) error {
	_, err := db.db.Exec(`DELETE FROM jobs WHERE kind = ? AND args = ?`, kind, args)
	return err
}

// Delivery queue operations

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	_, err := db.db.Exec(`INSERT INTO delivery_queue (id, inbox_uri, actor_id, activity_json, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Id.String(), item.InboxURI, item.ActorId.String(), item.ActivityJSON,
		item.Attempts, item.NextRetryAt, item.CreatedAt)
	return err
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(`SELECT id, inbox_uri, actor_id, activity_json, attempts, next_retry_at, created_at
		FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var it domain.DeliveryQueueItem
		var idStr, actorIdStr string
		if err := rows.Scan(&idStr, &it.InboxURI, &actorIdStr, &it.ActivityJSON, &it.Attempts, &it.NextRetryAt, &it.CreatedAt); err != nil {
			return err, nil
		}
		it.Id, _ = uuid.Parse(idStr)
		it.ActorId, _ = uuid.Parse(actorIdStr)
		items = append(items, it)
	}
	return rows.Err(), &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	_, err := db.db.Exec(`UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`,
		attempts, nextRetry, id.String())
	return err
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	_, err := db.db.Exec(`DELETE FROM delivery_queue WHERE id = ?`, id.String())
	return err
}

// Notification operations

func (db *DB) CreateNotification(n *domain.Notification) error {
	_, err := db.db.Exec(`INSERT INTO notifications (id, account_id, notification_type, actor_id, actor_username, actor_domain, status_id, status_uri, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Id.String(), n.AccountId.String(), string(n.NotificationType), n.ActorId.String(),
		n.ActorUsername, n.ActorDomain, n.StatusId.String(), n.StatusURI, n.Read, n.CreatedAt)
	return err
}

// Key tombstone operations

func (db *DB) CreateKeyTombstone(t *domain.KeyTombstone) error {
	_, err := db.db.Exec(`INSERT OR IGNORE INTO key_tombstones (id, actor_uri, key_id, created_at) VALUES (?, ?, ?, ?)`,
		t.Id.String(), t.ActorURI, t.KeyId, t.CreatedAt)
	return err
}

func (db *DB) HasKeyTombstone(keyId string) (bool, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM key_tombstones WHERE key_id = ?`, keyId).Scan(&n)
	return n > 0, err
}

func (db *DB) DeleteKeyTombstonesByActorURI(actorURI string) error {
	_, err := db.db.Exec(`DELETE FROM key_tombstones WHERE actor_uri = ?`, actorURI)
	return err
}

// Instance statistics

func (db *DB) CountLocalAccounts() (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE domain = '' AND suspended = 0`).Scan(&n)
	return n, err
}

func (db *DB) CountRemoteAccounts() (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE domain != ''`).Scan(&n)
	return n, err
}

func (db *DB) CountLocalStatuses() (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM statuses WHERE local = 1`).Scan(&n)
	return n, err
}

func (db *DB) CountStatuses() (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM statuses`).Scan(&n)
	return n, err
}

// IsNoRows reports whether err is the database's not-found error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
