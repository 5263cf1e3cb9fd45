package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voicenote-processor/pkg/models"
)

// SQLStore persists extracted items, generated documents and user profiles in
// SQLite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			due_date TEXT NOT NULL DEFAULT '',
			due_time TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			completed INTEGER NOT NULL DEFAULT 0,
			source_recording_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, completed)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_recording ON tasks(source_recording_id)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reminder_time TEXT NOT NULL,
			is_recurring INTEGER NOT NULL DEFAULT 0,
			recurrence_pattern TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			type TEXT NOT NULL DEFAULT 'reminder',
			tags TEXT NOT NULL DEFAULT '[]',
			source_recording_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_recording ON reminders(source_recording_id)`,
		`CREATE TABLE IF NOT EXISTS health_notes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			source_recording_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_notes_recording ON health_notes(source_recording_id)`,
		`CREATE TABLE IF NOT EXISTS generated_documents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content_type TEXT NOT NULL,
			content TEXT NOT NULL,
			preview_text TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			language TEXT NOT NULL DEFAULT '',
			generation_type TEXT NOT NULL,
			source_voice_note_ids TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT 'UTC',
			language TEXT NOT NULL DEFAULT 'en',
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func (s *SQLStore) CreateTask(ctx context.Context, userID string, t models.Task) (string, error) {
	id := models.NewID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, priority, due_date, due_time, category, tags,
			source_recording_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, t.Title, t.Description, string(t.Priority), t.DueDate, t.DueTime, t.Category,
		encodeTags(t.Tags), t.SourceRecordingID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("inserting task: %w", err)
	}
	return id, nil
}

func (s *SQLStore) CreateReminder(ctx context.Context, userID string, r models.Reminder) (string, error) {
	id := models.NewID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, title, description, reminder_time, is_recurring, recurrence_pattern,
			priority, type, tags, source_recording_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, r.Title, r.Description, r.ReminderTime, r.IsRecurring, r.RecurrencePattern,
		string(r.Priority), string(r.Type), encodeTags(r.Tags), r.SourceRecordingID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("inserting reminder: %w", err)
	}
	return id, nil
}

func (s *SQLStore) CreateHealthNote(ctx context.Context, userID string, n models.HealthNote) (string, error) {
	id := models.NewID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_notes (id, user_id, content, category, tags, source_recording_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, n.Content, n.Category, encodeTags(n.Tags), n.SourceRecordingID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("inserting health note: %w", err)
	}
	return id, nil
}

// OpenTasks returns the user's incomplete tasks, newest first.
func (s *SQLStore) OpenTasks(ctx context.Context, userID string, limit int) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, priority, due_date, due_time, category, tags, source_recording_id
		FROM tasks
		WHERE user_id = ? AND completed = 0
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// RecordingItems lists everything extracted from one recording.
type RecordingItems struct {
	Tasks       []models.Task       `json:"tasks"`
	Reminders   []models.Reminder   `json:"reminders"`
	HealthNotes []models.HealthNote `json:"healthNotes"`
}

func (s *SQLStore) ItemsForRecording(ctx context.Context, userID, recordingID string) (RecordingItems, error) {
	out := RecordingItems{
		Tasks:       []models.Task{},
		Reminders:   []models.Reminder{},
		HealthNotes: []models.HealthNote{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, priority, due_date, due_time, category, tags, source_recording_id
		FROM tasks WHERE user_id = ? AND source_recording_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID, recordingID)
	if err != nil {
		return out, fmt.Errorf("query tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	rows.Close()
	if err != nil {
		return out, err
	}
	out.Tasks = append(out.Tasks, tasks...)

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, title, description, reminder_time, is_recurring, recurrence_pattern, priority, type, tags,
			source_recording_id
		FROM reminders WHERE user_id = ? AND source_recording_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID, recordingID)
	if err != nil {
		return out, fmt.Errorf("query reminders: %w", err)
	}
	for rows.Next() {
		var r models.Reminder
		var priority, typ, tags string
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.ReminderTime, &r.IsRecurring,
			&r.RecurrencePattern, &priority, &typ, &tags, &r.SourceRecordingID); err != nil {
			rows.Close()
			return out, fmt.Errorf("scan reminder: %w", err)
		}
		r.Priority = models.Priority(priority)
		r.Type = models.ReminderType(typ)
		r.Tags = decodeTags(tags)
		out.Reminders = append(out.Reminders, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return out, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, content, category, tags, source_recording_id
		FROM health_notes WHERE user_id = ? AND source_recording_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID, recordingID)
	if err != nil {
		return out, fmt.Errorf("query health notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n models.HealthNote
		var tags string
		if err := rows.Scan(&n.ID, &n.Content, &n.Category, &tags, &n.SourceRecordingID); err != nil {
			return out, fmt.Errorf("scan health note: %w", err)
		}
		n.Tags = decodeTags(tags)
		out.HealthNotes = append(out.HealthNotes, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveGeneratedContent(ctx context.Context, doc *models.GeneratedContentDocument) (string, error) {
	if doc.DocumentID == "" {
		doc.DocumentID = models.NewID()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	sources, err := json.Marshal(doc.SourceVoiceNoteIDs)
	if err != nil {
		return "", fmt.Errorf("encoding sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generated_documents (id, user_id, title, content_type, content, preview_text, tags, language,
			generation_type, source_voice_note_ids, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocumentID, doc.UserID, doc.Title, doc.ContentType, doc.Content, doc.PreviewText,
		encodeTags(doc.Tags), doc.Language, string(doc.GenerationType), string(sources), string(doc.Status),
		doc.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}
	return doc.DocumentID, nil
}

// DocumentsForRecording returns documents generated from a voice note.
func (s *SQLStore) DocumentsForRecording(ctx context.Context, userID, recordingID string) ([]models.GeneratedContentDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.content_type, d.content, d.preview_text, d.tags, d.language, d.generation_type,
			d.source_voice_note_ids, d.status, d.created_at
		FROM generated_documents d, json_each(d.source_voice_note_ids) src
		WHERE d.user_id = ? AND src.value = ?
		ORDER BY d.created_at ASC, d.rowid ASC`, userID, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.GeneratedContentDocument
	for rows.Next() {
		var d models.GeneratedContentDocument
		var tags, genType, sources, status string
		var createdAt int64
		if err := rows.Scan(&d.DocumentID, &d.Title, &d.ContentType, &d.Content, &d.PreviewText, &tags,
			&d.Language, &genType, &sources, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.UserID = userID
		d.CreatedAt = time.UnixMilli(createdAt).UTC()
		d.Tags = decodeTags(tags)
		d.GenerationType = models.GenerationType(genType)
		d.Status = models.DocumentStatus(status)
		d.SourceVoiceNoteIDs = decodeTags(sources)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetProfile returns the stored profile or the default one.
func (s *SQLStore) GetProfile(ctx context.Context, userID string) (models.UserProfile, error) {
	p := models.UserProfile{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name, timezone, language FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.DisplayName, &p.Timezone, &p.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultProfile(userID), nil
	}
	if err != nil {
		return p, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

func (s *SQLStore) PutProfile(ctx context.Context, p models.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, display_name, timezone, language, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			timezone = excluded.timezone,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		p.UserID, p.DisplayName, p.Timezone, p.Language, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var priority, tags string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &priority, &t.DueDate, &t.DueTime, &t.Category,
			&tags, &t.SourceRecordingID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Priority = models.Priority(priority)
		t.Tags = decodeTags(tags)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeTags(s string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
