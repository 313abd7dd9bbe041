// Package history persists evaluated engine cycles to a local sqlite
// database for later inspection.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fancontrol/internal/engine"
	"fancontrol/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    timestamp          INTEGER PRIMARY KEY,
    cpu_temperature    REAL NOT NULL,
    gpu_temperature    REAL NOT NULL,
    curve_input        REAL NOT NULL,
    target_percent     INTEGER NOT NULL,
    applied_percent    INTEGER NOT NULL,
    preset             TEXT NOT NULL,
    thermal_protection INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_preset ON cycles(preset);
`

// Repository records engine cycles. It implements engine.Recorder.
type Repository struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the history database at path.
func Open(path string) (*Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is empty")
	}

	log := logger.WithComponent("history")
	log.Debug().Str("path", path).Msg("Opening history database")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Record implements engine.Recorder. Cycles landing within the same
// second overwrite each other; sub-second history has no value here.
func (r *Repository) Record(c engine.CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO cycles (
            timestamp, cpu_temperature, gpu_temperature, curve_input,
            target_percent, applied_percent, preset, thermal_protection
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            cpu_temperature = excluded.cpu_temperature,
            gpu_temperature = excluded.gpu_temperature,
            curve_input = excluded.curve_input,
            target_percent = excluded.target_percent,
            applied_percent = excluded.applied_percent,
            preset = excluded.preset,
            thermal_protection = excluded.thermal_protection
    `,
		c.Time.Unix(),
		c.CpuTemperature,
		c.GpuTemperature,
		c.CurveInput,
		c.Target,
		c.Applied,
		c.Preset,
		boolToInt(c.ThermalProtection),
	)
	if err != nil {
		return fmt.Errorf("store cycle: %w", err)
	}
	return nil
}

// Prune removes cycles older than the retention window.
func (r *Repository) Prune(retention time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	if _, err := r.db.Exec(`DELETE FROM cycles WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("prune cycles: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
