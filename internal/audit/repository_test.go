package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/therapy-core/internal/infrastructure/database"
	"github.com/nerrad567/therapy-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func i64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int     { return &v }

func TestAppendAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	records := []Record{
		{Direction: DirectionOutbound, Topic: "fes/3/prescription", MessageID: "m1", MessageType: "prescription",
			DeviceID: i64Ptr(7), DeviceNo: intPtr(3), Outcome: OutcomePublished, ResultCode: intPtr(0), CreatedAt: base},
		{Direction: DirectionInbound, Topic: "fes/3/ack", MessageID: "a1", MessageType: "ack",
			DeviceID: i64Ptr(7), DeviceNo: intPtr(3), Outcome: OutcomeProcessed, CreatedAt: base.Add(time.Second)},
		{Direction: DirectionInbound, Topic: "garbage", Unknown: true, Outcome: OutcomeUnknown,
			Payload: "{not json", CreatedAt: base.Add(2500 * time.Millisecond)},
	}
	for i := range records {
		if err := repo.Append(ctx, &records[i]); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		if records[i].ID == "" {
			t.Errorf("Append(%d) did not assign an id", i)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Records) != 3 {
		t.Fatalf("List() total = %d len = %d, want 3", all.Total, len(all.Records))
	}
	if all.Records[0].Topic != "garbage" || all.Records[2].MessageID != "m1" {
		t.Errorf("List() not newest first: %q ... %q", all.Records[0].Topic, all.Records[2].MessageID)
	}
	if all.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", all.Limit, defaultLimit)
	}

	first := all.Records[2]
	if first.DeviceID == nil || *first.DeviceID != 7 || first.DeviceNo == nil || *first.DeviceNo != 3 {
		t.Errorf("device fields = %v %v", first.DeviceID, first.DeviceNo)
	}
	if first.ResultCode == nil || *first.ResultCode != 0 {
		t.Errorf("ResultCode = %v, want 0", first.ResultCode)
	}
	if !first.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", first.CreatedAt, base)
	}
	if all.Records[0].DeviceID != nil {
		t.Errorf("unknown record DeviceID = %v, want nil", all.Records[0].DeviceID)
	}

	unknown := true
	since := base.Add(500 * time.Millisecond)
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"direction", Filter{Direction: DirectionInbound}, 2},
		{"message id", Filter{MessageID: "m1"}, 1},
		{"message type", Filter{MessageType: "ack"}, 1},
		{"device", Filter{DeviceID: i64Ptr(7)}, 2},
		{"unknown", Filter{Unknown: &unknown}, 1},
		{"since", Filter{Since: &since}, 2},
		{"until", Filter{Until: &since}, 1},
		{"page", Filter{Limit: 1, Offset: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got.Records) != tt.want {
				t.Errorf("List() returned %d records, want %d", len(got.Records), tt.want)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepo(t)

	got, err := repo.List(context.Background(), Filter{Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Limit != maxLimit || got.Offset != 0 {
		t.Errorf("List() limit/offset = %d/%d, want %d/0", got.Limit, got.Offset, maxLimit)
	}
	if got.Records == nil {
		t.Error("Records should be an empty slice, not nil")
	}
}

func TestAppend_Validation(t *testing.T) {
	repo := setupRepo(t)

	err := repo.Append(context.Background(), &Record{Topic: "fes/1/ack"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Append() error = %v, want ErrInvalidRecord", err)
	}
}

func TestAppend_TruncatesPayload(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	big := make([]byte, maxPayload+100)
	for i := range big {
		big[i] = 'x'
	}
	if err := repo.Append(ctx, &Record{Direction: DirectionInbound, Outcome: OutcomeProcessed, Payload: string(big)}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if n := len(got.Records[0].Payload); n != maxPayload {
		t.Errorf("stored payload length = %d, want %d", n, maxPayload)
	}
}

func TestAppend_TruncatesOnRuneBoundary(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	// Two ASCII bytes then three-byte runes: the cap falls inside a rune.
	payload := "xx" + strings.Repeat("€", maxPayload/3+10)
	if err := repo.Append(ctx, &Record{Direction: DirectionInbound, Outcome: OutcomeProcessed, Payload: payload}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	stored := got.Records[0].Payload
	if !utf8.ValidString(stored) {
		t.Error("stored payload is not valid UTF-8")
	}
	if len(stored) > maxPayload || len(stored) < maxPayload-2 {
		t.Errorf("stored payload length = %d, want within a rune of %d", len(stored), maxPayload)
	}
}

func TestTruncatePayload(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"a€b", 2, "a"},
		{"a€b", 4, "a€"},
		{"€", 1, ""},
	}
	for _, tt := range tests {
		if got := truncatePayload(tt.in, tt.n); got != tt.want {
			t.Errorf("truncatePayload(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestAppend_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO message_audit").WillReturnError(errors.New("database is locked"))

	repo := NewSQLiteRepository(db)
	err = repo.Append(context.Background(), &Record{Direction: DirectionOutbound, Outcome: OutcomePublished})
	if err == nil {
		t.Fatal("Append() error = nil, want failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_CountError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("no such table"))

	repo := NewSQLiteRepository(db)
	if _, err := repo.List(context.Background(), Filter{}); err == nil {
		t.Fatal("List() error = nil, want failure")
	}
}
