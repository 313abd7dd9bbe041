package history

import (
	"path/filepath"
	"testing"
	"time"

	"fancontrol/internal/engine"
)

func TestRecordAndPrune(t *testing.T) {
	repo, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer repo.Close()

	now := time.Now()
	records := []engine.CycleRecord{
		{Time: now.Add(-48 * time.Hour), CpuTemperature: 55, Target: 30, Applied: 30, Preset: "Quiet"},
		{Time: now, CpuTemperature: 72, GpuTemperature: 68, CurveInput: 70, Target: 55, Applied: 55, Preset: "Balanced"},
		{Time: now.Add(time.Second), CpuTemperature: 97, Target: 100, Applied: 100, ThermalProtection: true},
	}
	for _, r := range records {
		if err := repo.Record(r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	var count int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("cycle count = %d; want 3", count)
	}

	if err := repo.Prune(24 * time.Hour); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 2 {
		t.Errorf("cycle count after prune = %d; want 2", count)
	}
}

func TestRecordSameSecondOverwrites(t *testing.T) {
	repo, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer repo.Close()

	at := time.Now()
	if err := repo.Record(engine.CycleRecord{Time: at, Applied: 30}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := repo.Record(engine.CycleRecord{Time: at, Applied: 45}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var applied int
	if err := repo.db.QueryRow(`SELECT applied_percent FROM cycles WHERE timestamp = ?`, at.Unix()).Scan(&applied); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if applied != 45 {
		t.Errorf("applied = %d; want the later 45", applied)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("empty path accepted")
	}
}
