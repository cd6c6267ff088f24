package patient

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/therapy-core/internal/infrastructure/database"
	"github.com/nerrad567/therapy-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "patient.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestGetPatient(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.CreatePatient(ctx, &Patient{ID: 42, Name: "A. Patient"}); err != nil {
		t.Fatalf("CreatePatient() error = %v", err)
	}

	p, err := repo.GetPatient(ctx, 42)
	if err != nil {
		t.Fatalf("GetPatient() error = %v", err)
	}
	if p.Name != "A. Patient" || p.CreatedAt.IsZero() {
		t.Errorf("GetPatient() = %+v", p)
	}

	if _, err := repo.GetPatient(ctx, 43); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("GetPatient(missing) error = %v, want ErrPatientNotFound", err)
	}
}

func TestLatestThreshold(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	if err := repo.CreatePatient(ctx, &Patient{ID: 42, Name: "A. Patient"}); err != nil {
		t.Fatalf("CreatePatient() error = %v", err)
	}

	if _, err := repo.LatestThreshold(ctx, 42); !errors.Is(err, ErrNoThreshold) {
		t.Fatalf("LatestThreshold(empty) error = %v, want ErrNoThreshold", err)
	}

	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	dev := int64(7)
	older := &Threshold{PatientID: 42, IntensityMA: 12.5, MeasuredAt: base}
	newer := &Threshold{PatientID: 42, DeviceID: &dev, IntensityMA: 14, FrequencyHz: 35,
		PulseWidthUS: 300, DurationMin: 20, Source: SourceDevice, MeasuredAt: base.Add(time.Hour)}
	for _, th := range []*Threshold{newer, older} {
		if err := repo.SaveThreshold(ctx, th); err != nil {
			t.Fatalf("SaveThreshold() error = %v", err)
		}
	}
	if older.Source != SourceClinician {
		t.Errorf("default source = %q, want clinician", older.Source)
	}

	got, err := repo.LatestThreshold(ctx, 42)
	if err != nil {
		t.Fatalf("LatestThreshold() error = %v", err)
	}
	if got.IntensityMA != 14 || got.FrequencyHz != 35 || got.PulseWidthUS != 300 || got.DurationMin != 20 {
		t.Errorf("LatestThreshold() = %+v, want the newer threshold", got)
	}
	if got.DeviceID == nil || *got.DeviceID != 7 || got.Source != SourceDevice {
		t.Errorf("device/source = %v/%q", got.DeviceID, got.Source)
	}
	if !got.MeasuredAt.Equal(base.Add(time.Hour)) {
		t.Errorf("MeasuredAt = %v", got.MeasuredAt)
	}
}

func TestSaveThreshold_Errors(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		th   Threshold
		want error
	}{
		{"no patient id", Threshold{IntensityMA: 10}, ErrInvalidThreshold},
		{"zero intensity", Threshold{PatientID: 1}, ErrInvalidThreshold},
		{"negative pulse width", Threshold{PatientID: 1, IntensityMA: 10, PulseWidthUS: -1}, ErrInvalidThreshold},
		{"unknown patient", Threshold{PatientID: 99, IntensityMA: 10}, ErrPatientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.SaveThreshold(ctx, &tt.th); !errors.Is(err, tt.want) {
				t.Errorf("SaveThreshold() error = %v, want %v", err, tt.want)
			}
		})
	}
}
