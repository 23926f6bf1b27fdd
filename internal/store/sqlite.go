package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mail-triage/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// notificationRow is the column layout of the notifications table.
type notificationRow struct {
	ID               string       `db:"id"`
	ThreadID         string       `db:"thread_id"`
	SourceKey        string       `db:"source_key"`
	Kind             string       `db:"kind"`
	Status           string       `db:"status"`
	NeedsReview      int          `db:"needs_review"`
	Confidence       float64      `db:"confidence"`
	Reasoning        string       `db:"reasoning"`
	Subject          string       `db:"subject"`
	Sender           string       `db:"sender"`
	Recipients       string       `db:"recipients"`
	BodySnapshot     string       `db:"body_snapshot"`
	EmailCount       int          `db:"email_count"`
	Fields           string       `db:"fields"`
	Original         string       `db:"original"`
	Edited           int          `db:"edited"`
	IsGrabbed        int          `db:"is_grabbed"`
	GrabbedBy        string       `db:"grabbed_by"`
	GrabbedAt        sql.NullTime `db:"grabbed_at"`
	IsPriorityAssist int          `db:"is_priority_assist"`
	RelatedID        string       `db:"related_id"`
	LastError        string       `db:"last_error"`
	JobID            string       `db:"job_id"`
	JobDeadline      sql.NullTime `db:"job_deadline"`
	ArchiveDueAt     sql.NullTime `db:"archive_due_at"`
	ArchivedAt       sql.NullTime `db:"archived_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// SaveNotification inserts or replaces n and appends events to its
// history in one transaction.
func (s *SQLiteStore) SaveNotification(
	ctx context.Context,
	n model.Notification,
	events ...model.AuditEvent,
) error {
	row, err := toRow(n)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO notifications (
			id, thread_id, source_key, kind, status,
			needs_review, confidence, reasoning,
			subject, sender, recipients, body_snapshot, email_count,
			fields, original, edited,
			is_grabbed, grabbed_by, grabbed_at, is_priority_assist,
			related_id, last_error, job_id, job_deadline,
			archive_due_at, archived_at, created_at, updated_at
		) VALUES (
			:id, :thread_id, :source_key, :kind, :status,
			:needs_review, :confidence, :reasoning,
			:subject, :sender, :recipients, :body_snapshot, :email_count,
			:fields, :original, :edited,
			:is_grabbed, :grabbed_by, :grabbed_at, :is_priority_assist,
			:related_id, :last_error, :job_id, :job_deadline,
			:archive_due_at, :archived_at, :created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			source_key = excluded.source_key,
			kind = excluded.kind,
			status = excluded.status,
			needs_review = excluded.needs_review,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning,
			subject = excluded.subject,
			sender = excluded.sender,
			recipients = excluded.recipients,
			body_snapshot = excluded.body_snapshot,
			email_count = excluded.email_count,
			fields = excluded.fields,
			original = excluded.original,
			edited = excluded.edited,
			is_grabbed = excluded.is_grabbed,
			grabbed_by = excluded.grabbed_by,
			grabbed_at = excluded.grabbed_at,
			is_priority_assist = excluded.is_priority_assist,
			related_id = excluded.related_id,
			last_error = excluded.last_error,
			job_id = excluded.job_id,
			job_deadline = excluded.job_deadline,
			archive_due_at = excluded.archive_due_at,
			archived_at = excluded.archived_at,
			updated_at = excluded.updated_at`

	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("saving notification %s: %w", n.ID, err)
	}

	for _, ev := range events {
		if ev.NotificationID == "" {
			ev.NotificationID = n.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (notification_id, type, operator, detail, at)
			VALUES (?, ?, ?, ?, ?)`,
			ev.NotificationID, string(ev.Type), ev.Operator, ev.Detail, ev.At.UTC(),
		)
		if err != nil {
			return fmt.Errorf("recording %s event for %s: %w", ev.Type, n.ID, err)
		}
	}

	return tx.Commit()
}

// LoadNotifications returns every stored notification, newest first.
func (s *SQLiteStore) LoadNotifications(ctx context.Context) ([]model.Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM notifications ORDER BY updated_at DESC"); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// GetNotification retrieves a single notification by its ID.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var r notificationRow
	err := s.db.GetContext(ctx, &r, "SELECT * FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	n, err := fromRow(r)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListEvents returns the history of one notification, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, notificationID string) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, notification_id, type, operator, detail, at
		FROM events WHERE notification_id = ? ORDER BY at, id`,
		notificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events for %s: %w", notificationID, err)
	}
	return events, nil
}

// LoadCursor returns the UIDVALIDITY and last processed UID recorded for
// mailbox. A mailbox that was never polled yields zeros.
func (s *SQLiteStore) LoadCursor(ctx context.Context, mailbox string) (uidValidity, lastUID uint32, err error) {
	var c struct {
		UIDValidity int64 `db:"uid_validity"`
		LastUID     int64 `db:"last_uid"`
	}
	err = s.db.GetContext(ctx, &c,
		"SELECT uid_validity, last_uid FROM mailbox_cursor WHERE mailbox = ?", mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading cursor for %s: %w", mailbox, err)
	}
	return uint32(c.UIDValidity), uint32(c.LastUID), nil
}

// SaveCursor records the last processed UID for mailbox.
func (s *SQLiteStore) SaveCursor(ctx context.Context, mailbox string, uidValidity, lastUID uint32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO mailbox_cursor (mailbox, uid_validity, last_uid, updated_at)
		VALUES (?, ?, ?, ?)`,
		mailbox, int64(uidValidity), int64(lastUID), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving cursor for %s: %w", mailbox, err)
	}
	return nil
}

func toRow(n model.Notification) (notificationRow, error) {
	recipients, err := json.Marshal(nonNil(n.Recipients))
	if err != nil {
		return notificationRow{}, fmt.Errorf("marshaling recipients for %s: %w", n.ID, err)
	}
	fields, err := json.Marshal(n.Fields)
	if err != nil {
		return notificationRow{}, fmt.Errorf("marshaling fields for %s: %w", n.ID, err)
	}
	original, err := json.Marshal(n.Original)
	if err != nil {
		return notificationRow{}, fmt.Errorf("marshaling original for %s: %w", n.ID, err)
	}

	return notificationRow{
		ID:               n.ID,
		ThreadID:         n.ThreadID,
		SourceKey:        n.SourceKey,
		Kind:             string(n.Kind),
		Status:           string(n.Status),
		NeedsReview:      boolToInt(n.NeedsReview),
		Confidence:       n.Confidence,
		Reasoning:        n.Reasoning,
		Subject:          n.Subject,
		Sender:           n.Sender,
		Recipients:       string(recipients),
		BodySnapshot:     n.BodySnapshot,
		EmailCount:       n.EmailCount,
		Fields:           string(fields),
		Original:         string(original),
		Edited:           int(n.Edited),
		IsGrabbed:        boolToInt(n.Claim.IsGrabbed),
		GrabbedBy:        n.Claim.GrabbedBy,
		GrabbedAt:        nullTime(n.Claim.GrabbedAt),
		IsPriorityAssist: boolToInt(n.IsPriorityAssist),
		RelatedID:        n.RelatedID,
		LastError:        n.LastError,
		JobID:            n.JobID,
		JobDeadline:      nullTime(n.JobDeadline),
		ArchiveDueAt:     nullTime(n.ArchiveDueAt),
		ArchivedAt:       nullTime(n.ArchivedAt),
		CreatedAt:        n.CreatedAt.UTC(),
		UpdatedAt:        n.UpdatedAt.UTC(),
	}, nil
}

func fromRow(r notificationRow) (model.Notification, error) {
	n := model.Notification{
		ID:               r.ID,
		ThreadID:         r.ThreadID,
		SourceKey:        r.SourceKey,
		Kind:             model.NotificationKind(r.Kind),
		Status:           model.NotificationStatus(r.Status),
		NeedsReview:      r.NeedsReview != 0,
		Confidence:       r.Confidence,
		Reasoning:        r.Reasoning,
		Subject:          r.Subject,
		Sender:           r.Sender,
		BodySnapshot:     r.BodySnapshot,
		EmailCount:       r.EmailCount,
		Edited:           model.FieldSet(r.Edited),
		IsPriorityAssist: r.IsPriorityAssist != 0,
		RelatedID:        r.RelatedID,
		LastError:        r.LastError,
		JobID:            r.JobID,
		JobDeadline:      timePtr(r.JobDeadline),
		ArchiveDueAt:     timePtr(r.ArchiveDueAt),
		ArchivedAt:       timePtr(r.ArchivedAt),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}

	if r.IsGrabbed != 0 {
		n.Claim = model.Claim{IsGrabbed: true, GrabbedBy: r.GrabbedBy, GrabbedAt: timePtr(r.GrabbedAt)}
	}

	if r.Recipients != "" {
		if err := json.Unmarshal([]byte(r.Recipients), &n.Recipients); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling recipients for %s: %w", r.ID, err)
		}
		if len(n.Recipients) == 0 {
			n.Recipients = nil
		}
	}
	if r.Fields != "" {
		if err := json.Unmarshal([]byte(r.Fields), &n.Fields); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling fields for %s: %w", r.ID, err)
		}
	}
	if r.Original != "" {
		if err := json.Unmarshal([]byte(r.Original), &n.Original); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling original for %s: %w", r.ID, err)
		}
	}

	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return model.TimePtr(t.Time)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
