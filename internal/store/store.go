package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Gauge receives the current write-queue depth. *prometheus.GaugeVec
// members satisfy it; a nil gauge is ignored.
type Gauge interface {
	Set(float64)
}

// Options tune an opened store.
type Options struct {
	// QueueSize caps the async write queue. Defaults to 4096.
	QueueSize int
	// QueueGauge, when set, tracks queue depth.
	QueueGauge Gauge
}

// Store wraps the gateway SQLite database.
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	path   string
	logger *zap.Logger

	// maintMu serializes the retention sweep and Compact so they never
	// overlap each other or starve the write queue mid-transaction.
	maintMu sync.Mutex

	queue *writeQueue
}

// Open opens (creating if needed) the database at path, runs migrations,
// and starts the write queue.
func Open(path string, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "store"))

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}
	// One connection: SQLite writes serialize naturally and the queue
	// never races a reader for the write lock.
	sqlDB.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		sqlDB:  sqlDB,
		path:   path,
		logger: logger,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	s.queue = newWriteQueue(db, opts.QueueSize, opts.QueueGauge, logger)
	logger.Info("store opened", zap.String("path", path))
	return s, nil
}

// Close drains the write queue and closes the database.
func (s *Store) Close() error {
	if s.queue != nil {
		s.queue.close()
	}
	return s.sqlDB.Close()
}

// DB exposes the gorm handle for synchronous reads.
func (s *Store) DB() *gorm.DB { return s.db }

// migrate creates tables, adds missing columns, then runs the explicit
// one-shot steps tracked in schema_migrations.
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&SchemaMigration{},
		&RequestLog{},
		&RequestPayload{},
		&DailyMetric{},
		&APIKey{},
		&APIKeyAuditLog{},
		&GatewayEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	steps := []struct {
		version string
		run     func(tx *gorm.DB) error
	}{
		{"001_daily_metrics_composite_key", migrateDailyMetricsKey},
		{"002_seed_wildcard_key", seedWildcardKey},
	}
	for _, step := range steps {
		var count int64
		if err := s.db.Model(&SchemaMigration{}).
			Where("version = ?", step.version).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration %s: %w", step.version, err)
		}
		if count > 0 {
			continue
		}
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := step.run(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{
				Version:   step.version,
				AppliedAt: time.Now().UnixMilli(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", step.version, err)
		}
		s.logger.Info("migration applied", zap.String("version", step.version))
	}
	return nil
}

// migrateDailyMetricsKey converts a legacy daily_metrics table keyed on
// date alone to the (date, endpoint) composite key. Legacy rows carry no
// endpoint; they are preserved under the synthetic endpoint "all".
func migrateDailyMetricsKey(tx *gorm.DB) error {
	// Composite-key tables created by AutoMigrate are already correct;
	// the legacy shape is detectable by a single-column primary key.
	var pkCount int64
	row := tx.Raw(`SELECT COUNT(*) FROM pragma_table_info('daily_metrics') WHERE pk > 0`).Row()
	if err := row.Scan(&pkCount); err != nil {
		return err
	}
	if pkCount >= 2 {
		return nil
	}
	if err := tx.Exec(`ALTER TABLE daily_metrics RENAME TO daily_metrics_legacy`).Error; err != nil {
		return err
	}
	if err := tx.Migrator().CreateTable(&DailyMetric{}); err != nil {
		return err
	}
	if err := tx.Exec(`INSERT INTO daily_metrics
		(date, endpoint, request_count, input_tokens, output_tokens, cached_tokens, latency_sum_ms)
		SELECT date, 'all', request_count, input_tokens, output_tokens, cached_tokens, latency_sum_ms
		FROM daily_metrics_legacy`).Error; err != nil {
		return err
	}
	return tx.Exec(`DROP TABLE daily_metrics_legacy`).Error
}

// seedWildcardKey ensures exactly one "Any Key" row exists.
func seedWildcardKey(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&APIKey{}).Where("wildcard = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return tx.Create(&APIKey{
		ID:          uuid.NewString(),
		Name:        "Any Key",
		Description: "Accepts any bearer token that does not match a named key",
		Hash:        WildcardHash,
		Wildcard:    true,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error
}

// DBInfo reports file sizes and row counts for the management API.
type DBInfo struct {
	Path       string           `json:"path"`
	SizeBytes  int64            `json:"sizeBytes"`
	WALBytes   int64            `json:"walBytes"`
	TableRows  map[string]int64 `json:"tableRows"`
	PageSize   int64            `json:"pageSize"`
	FreePages  int64            `json:"freePages"`
	TotalPages int64            `json:"totalPages"`
}

// Info gathers database statistics.
func (s *Store) Info() (*DBInfo, error) {
	info := &DBInfo{Path: s.path, TableRows: map[string]int64{}}
	if st, err := os.Stat(s.path); err == nil {
		info.SizeBytes = st.Size()
	}
	if st, err := os.Stat(s.path + "-wal"); err == nil {
		info.WALBytes = st.Size()
	}
	for name, model := range map[string]any{
		"request_logs":       &RequestLog{},
		"request_payloads":   &RequestPayload{},
		"daily_metrics":      &DailyMetric{},
		"api_keys":           &APIKey{},
		"api_key_audit_logs": &APIKeyAuditLog{},
		"gateway_events":     &GatewayEvent{},
	} {
		var count int64
		if err := s.db.Model(model).Count(&count).Error; err != nil {
			return nil, err
		}
		info.TableRows[name] = count
	}
	s.db.Raw(`PRAGMA page_size`).Scan(&info.PageSize)
	s.db.Raw(`PRAGMA freelist_count`).Scan(&info.FreePages)
	s.db.Raw(`PRAGMA page_count`).Scan(&info.TotalPages)
	return info, nil
}

// Compact truncates the WAL and vacuums the database, returning the bytes
// reclaimed on disk. Serialized against the retention sweep.
func (s *Store) Compact(ctx context.Context) (int64, error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	before := fileSize(s.path) + fileSize(s.path+"-wal")
	if err := compactSQL(ctx, s.sqlDB); err != nil {
		return 0, err
	}
	after := fileSize(s.path) + fileSize(s.path+"-wal")

	reclaimed := before - after
	if reclaimed < 0 {
		reclaimed = 0
	}
	s.logger.Info("database compacted",
		zap.Int64("beforeBytes", before),
		zap.Int64("afterBytes", after),
	)
	return reclaimed, nil
}

// compactSQL issues the checkpoint then the vacuum. Split out so the
// statement order is testable against a mock connection.
func compactSQL(ctx context.Context, db *sql.DB) error {
	var busy, logFrames, checkpointed int64
	row := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
