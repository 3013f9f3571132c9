package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/entity"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var meetingColumns = []string{
	"id", "owner_id", "title", "meeting_date", "tier", "status", "language",
	"transcript", "segments", "analysis", "documents", "audio",
	"error_message", "warning", "sync_calendar", "processed_at", "live_sessions",
	"created_at", "updated_at",
}

var taskColumns = []string{
	"id", "meeting_id", "owner_id", "description", "assignee", "priority",
	"deadline", "dependencies", "completed", "created_at",
}

// Postgres persists meetings in Postgres. Record updates lock the row for the
// duration of the read-modify-write.
type Postgres struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

var _ Storage = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateMeeting(ctx context.Context, m *entity.Meeting) error {
	values, err := meetingValues(m)
	if err != nil {
		return err
	}

	query, args, err := p.psql.Insert("meetings").Columns(meetingColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert meeting: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.Conflict("meeting %s already exists", m.ID)
		}
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (p *Postgres) GetMeeting(ctx context.Context, id string) (*entity.Meeting, error) {
	query, args, err := p.psql.Select(meetingColumns...).From("meetings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select meeting: %w", err)
	}
	return scanMeeting(p.db.QueryRowContext(ctx, query, args...), id)
}

func (p *Postgres) UpdateMeeting(ctx context.Context, id string, fn UpdateFunc) (*entity.Meeting, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := p.psql.Select(meetingColumns...).From("meetings").
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select meeting: %w", err)
	}

	m, err := scanMeeting(tx.QueryRowContext(ctx, query, args...), id)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}

	values, err := meetingValues(m)
	if err != nil {
		return nil, err
	}
	update := p.psql.Update("meetings").Where(sq.Eq{"id": id})
	// id is the key and never rewritten
	for i, col := range meetingColumns[1:] {
		update = update.Set(col, values[i+1])
	}
	query, args, err = update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update meeting: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update meeting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func (p *Postgres) ListMeetings(ctx context.Context, q entity.MeetingListQuery) ([]*entity.Meeting, error) {
	sel := p.psql.Select(meetingColumns...).From("meetings").
		Where(sq.Eq{"owner_id": q.OwnerID}).
		OrderBy("created_at DESC", "id").
		Offset(uint64(max(q.Skip, 0)))
	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list meetings: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	meetings := []*entity.Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows, "")
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return meetings, nil
}

func (p *Postgres) CreateTasks(ctx context.Context, tasks []entity.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	insert := p.psql.Insert("tasks").Columns(taskColumns...)
	for _, t := range tasks {
		insert = insert.Values(
			t.ID, t.MeetingID, t.OwnerID, t.Description, t.Assignee, string(t.Priority),
			nullTime(t.Deadline), pq.Array(nonNil(t.Dependencies)), t.Completed, t.CreatedAt,
		)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert tasks: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}

func (p *Postgres) ListTasks(ctx context.Context, meetingID string) ([]entity.Task, error) {
	query, args, err := p.psql.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"meeting_id": meetingID}).OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select tasks: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []entity.Task{}
	for rows.Next() {
		var (
			t        entity.Task
			priority string
			deadline sql.NullTime
			deps     pq.StringArray
		)
		if err := rows.Scan(&t.ID, &t.MeetingID, &t.OwnerID, &t.Description, &t.Assignee, &priority,
			&deadline, &deps, &t.Completed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Priority = entity.Priority(priority)
		if deadline.Valid {
			d := deadline.Time
			t.Deadline = &d
		}
		if len(deps) > 0 {
			t.Dependencies = []string(deps)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return tasks, nil
}

func (p *Postgres) GetCalendarCredential(ctx context.Context, ownerID string) (*entity.CalendarCredential, error) {
	query, args, err := p.psql.Select("owner_id", "access_token", "calendar_id", "time_zone", "updated_at").
		From("calendar_credentials").Where(sq.Eq{"owner_id": ownerID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential: %w", err)
	}

	var c entity.CalendarCredential
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&c.OwnerID, &c.AccessToken, &c.CalendarID, &c.TimeZone, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("calendar credential for %s", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("select credential: %w", err)
	}
	return &c, nil
}

func (p *Postgres) SaveCalendarCredential(ctx context.Context, c *entity.CalendarCredential) error {
	query, args, err := p.psql.Insert("calendar_credentials").
		Columns("owner_id", "access_token", "calendar_id", "time_zone", "updated_at").
		Values(c.OwnerID, c.AccessToken, c.CalendarID, c.TimeZone, c.UpdatedAt).
		Suffix(`ON CONFLICT (owner_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			calendar_id = EXCLUDED.calendar_id,
			time_zone = EXCLUDED.time_zone,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert credential: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func meetingValues(m *entity.Meeting) ([]any, error) {
	segments, err := jsonColumn(m.Segments, len(m.Segments) == 0)
	if err != nil {
		return nil, err
	}
	analysis, err := jsonColumn(m.Analysis, m.Analysis == nil)
	if err != nil {
		return nil, err
	}
	documents, err := jsonColumn(m.Documents, m.Documents == nil)
	if err != nil {
		return nil, err
	}
	audio, err := jsonColumn(m.Audio, false)
	if err != nil {
		return nil, err
	}
	live, err := jsonColumn(m.LiveSessions, len(m.LiveSessions) == 0)
	if err != nil {
		return nil, err
	}

	var transcript sql.NullString
	if m.Transcript != nil {
		transcript = sql.NullString{String: *m.Transcript, Valid: true}
	}

	return []any{
		m.ID, m.OwnerID, m.Title, m.MeetingDate, string(m.Tier), string(m.Status), m.Language,
		transcript, segments, analysis, documents, audio,
		m.ErrorMessage, m.Warning, m.SyncCalendar, nullTime(m.ProcessedAt), live,
		m.CreatedAt, m.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner, id string) (*entity.Meeting, error) {
	var (
		m                                          entity.Meeting
		tier, status                               string
		transcript                                 sql.NullString
		segments, analysis, documents, audio, live []byte
		processedAt                                sql.NullTime
	)

	err := row.Scan(&m.ID, &m.OwnerID, &m.Title, &m.MeetingDate, &tier, &status, &m.Language,
		&transcript, &segments, &analysis, &documents, &audio,
		&m.ErrorMessage, &m.Warning, &m.SyncCalendar, &processedAt, &live,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("meeting %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan meeting: %w", err)
	}

	m.Tier = entity.Tier(tier)
	m.Status = entity.Status(status)
	if transcript.Valid {
		m.Transcript = &transcript.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		m.ProcessedAt = &t
	}

	for _, col := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"segments", segments, &m.Segments},
		{"analysis", analysis, &m.Analysis},
		{"documents", documents, &m.Documents},
		{"audio", audio, &m.Audio},
		{"live_sessions", live, &m.LiveSessions},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", col.name, err)
		}
	}
	return &m, nil
}

func jsonColumn(v any, null bool) (any, error) {
	if null {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	// lib/pq sends []byte as bytea, which jsonb rejects
	return string(data), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
