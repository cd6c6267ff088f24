package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// maxPayload caps the stored payload so one oversized message cannot
	// bloat the table.
	maxPayload = 64 * 1024

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

var recordColumns = []string{
	"id", "direction", "topic", "msg_id", "msg_type", "device_id", "device_no",
	"unknown", "outcome", "result_code", "payload", "error", "created_at",
}

// Repository defines audit persistence operations.
type Repository interface {
	// Append inserts a record. ID and CreatedAt are generated if empty.
	Append(ctx context.Context, rec *Record) error

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit records in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a record.
func (r *SQLiteRepository) Append(ctx context.Context, rec *Record) error {
	if rec.Direction == "" || rec.Outcome == "" {
		return fmt.Errorf("%w: direction and outcome are required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload := truncatePayload(rec.Payload, maxPayload)

	query, args, err := sq.Insert("message_audit").
		Columns(recordColumns...).
		Values(
			rec.ID, string(rec.Direction), rec.Topic, rec.MessageID, rec.MessageType,
			rec.DeviceID, rec.DeviceNo, rec.Unknown, string(rec.Outcome), rec.ResultCode,
			payload, rec.Error, rec.CreatedAt.UTC().Format(timeLayout),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// truncatePayload cuts s to at most n bytes without splitting a rune.
func truncatePayload(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func applyFilter(qb sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if f.Direction != "" {
		qb = qb.Where(sq.Eq{"direction": string(f.Direction)})
	}
	if f.MessageID != "" {
		qb = qb.Where(sq.Eq{"msg_id": f.MessageID})
	}
	if f.MessageType != "" {
		qb = qb.Where(sq.Eq{"msg_type": f.MessageType})
	}
	if f.DeviceID != nil {
		qb = qb.Where(sq.Eq{"device_id": *f.DeviceID})
	}
	if f.Unknown != nil {
		qb = qb.Where(sq.Eq{"unknown": *f.Unknown})
	}
	if f.Since != nil {
		qb = qb.Where(sq.GtOrEq{"created_at": f.Since.UTC().Format(timeLayout)})
	}
	if f.Until != nil {
		qb = qb.Where(sq.LtOrEq{"created_at": f.Until.UTC().Format(timeLayout)})
	}
	return qb
}

// List returns records matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	countQuery, countArgs, err := applyFilter(sq.Select("COUNT(*)").From("message_audit"), filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit count: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit records: %w", err)
	}

	query, args, err := applyFilter(sq.Select(recordColumns...).From("message_audit"), filter).
		OrderBy("created_at DESC", "id").
		Limit(uint64(filter.Limit)).   //nolint:gosec // clamped above
		Offset(uint64(filter.Offset)). //nolint:gosec // clamped above
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec        Record
		direction  string
		outcome    string
		deviceID   sql.NullInt64
		deviceNo   sql.NullInt64
		resultCode sql.NullInt64
		createdAt  string
	)
	if err := rows.Scan(&rec.ID, &direction, &rec.Topic, &rec.MessageID, &rec.MessageType,
		&deviceID, &deviceNo, &rec.Unknown, &outcome, &resultCode,
		&rec.Payload, &rec.Error, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning audit record: %w", err)
	}
	rec.Direction = Direction(direction)
	rec.Outcome = Outcome(outcome)
	if deviceID.Valid {
		id := deviceID.Int64
		rec.DeviceID = &id
	}
	if deviceNo.Valid {
		no := int(deviceNo.Int64)
		rec.DeviceNo = &no
	}
	if resultCode.Valid {
		code := int(resultCode.Int64)
		rec.ResultCode = &code
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return rec, nil
}
