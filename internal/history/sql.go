package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slicesim/internal/telemetry"
)

// runRow is the persisted form of a RunRecord.
type runRow struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)"`
	TrafficVolume    int64     `gorm:"not null"`
	Duration         int64     `gorm:"not null"`
	Pattern          string    `gorm:"type:varchar(32);not null"`
	Interval         float64   `gorm:"not null"`
	Seed             int64
	Status           string    `gorm:"type:varchar(16);not null;index"`
	Error            string    `gorm:"type:text"`
	Ticks            int
	TrafficGenerated int64
	PacketsProcessed int64
	PacketsDropped   int64
	CreatedAt        time.Time `gorm:"index"`
	StartTime        *time.Time
	EndTime          *time.Time
}

func (runRow) TableName() string { return "simulation_runs" }

// snapshotRow is one tick of a run; slice metrics are kept as JSON.
type snapshotRow struct {
	ID            uint      `gorm:"primaryKey"`
	SimulationID  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_run_tick"`
	Tick          int       `gorm:"not null;uniqueIndex:idx_run_tick"`
	Timestamp     time.Time `gorm:"not null"`
	TickTraffic   int64
	TickProcessed int64
	TickDropped   int64
	SliceMetrics  string `gorm:"type:text"`
}

func (snapshotRow) TableName() string { return "tick_snapshots" }

func toRunRow(r telemetry.RunRecord) runRow {
	return runRow{
		ID:               r.Config.ID,
		TrafficVolume:    r.Config.TrafficVolume,
		Duration:         r.Config.Duration,
		Pattern:          string(r.Config.Pattern),
		Interval:         r.Config.Interval,
		Seed:             r.Config.Seed,
		Status:           string(r.Status),
		Error:            r.Error,
		Ticks:            r.Ticks,
		TrafficGenerated: r.TrafficGenerated,
		PacketsProcessed: r.PacketsProcessed,
		PacketsDropped:   r.PacketsDropped,
		CreatedAt:        r.CreatedAt,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
	}
}

func (r runRow) record() telemetry.RunRecord {
	return telemetry.RunRecord{
		Config: telemetry.SimulationConfig{
			ID:            r.ID,
			TrafficVolume: r.TrafficVolume,
			Duration:      r.Duration,
			Pattern:       telemetry.Pattern(r.Pattern),
			Interval:      r.Interval,
			Seed:          r.Seed,
		},
		Status:    telemetry.Status(r.Status),
		Error:     r.Error,
		Ticks:     r.Ticks,
		CreatedAt: r.CreatedAt,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Totals: telemetry.Totals{
			TrafficGenerated: r.TrafficGenerated,
			PacketsProcessed: r.PacketsProcessed,
			PacketsDropped:   r.PacketsDropped,
		},
	}
}

// SQLStore keeps history in a SQLite database through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL opens (and migrates) the SQLite database at dsn. An empty dsn uses
// a private in-memory database.
func OpenSQL(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("history db handle: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: databases alive.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&runRow{}, &snapshotRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func notFound(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (s *SQLStore) CreateRun(ctx context.Context, rec telemetry.RunRecord) error {
	row := toRunRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create run %s: %w", rec.ID(), err)
	}
	return nil
}

func (s *SQLStore) UpdateRun(ctx context.Context, rec telemetry.RunRecord) error {
	row := toRunRow(rec)
	res := s.db.WithContext(ctx).Model(&row).Select("*").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("update run %s: %w", rec.ID(), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID())
	}
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (telemetry.RunRecord, error) {
	var row runRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return telemetry.RunRecord{}, notFound(err, id)
	}
	return row.record(), nil
}

func (s *SQLStore) ListRuns(ctx context.Context, f Filter) ([]telemetry.RunRecord, int, error) {
	f = f.normalized()
	query := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&runRow{})
		if f.Status != "" {
			q = q.Where("status = ?", string(f.Status))
		}
		return q
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}
	var rows []runRow
	err := query().Order("created_at DESC").Order("rowid DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	out := make([]telemetry.RunRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, int(total), nil
}

func toSnapshotRow(snap telemetry.TickSnapshot) (snapshotRow, error) {
	metrics, err := json.Marshal(snap.SliceMetrics)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("encode slice metrics: %w", err)
	}
	return snapshotRow{
		SimulationID:  snap.SimulationID,
		Tick:          snap.Tick,
		Timestamp:     snap.Timestamp,
		TickTraffic:   snap.TickTraffic,
		TickProcessed: snap.TickProcessed,
		TickDropped:   snap.TickDropped,
		SliceMetrics:  string(metrics),
	}, nil
}

func (s *SQLStore) AppendSnapshot(ctx context.Context, snap telemetry.TickSnapshot) error {
	row, err := toSnapshotRow(snap)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&runRow{}).Where("id = ?", snap.SimulationID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, snap.SimulationID)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append snapshot %s/%d: %w", snap.SimulationID, snap.Tick, err)
		}
		return nil
	})
}

func (s *SQLStore) CommitTick(ctx context.Context, rec telemetry.RunRecord, snap telemetry.TickSnapshot) error {
	if rec.ID() != snap.SimulationID {
		return fmt.Errorf("commit tick: run %s does not own snapshot of %s", rec.ID(), snap.SimulationID)
	}
	row, err := toSnapshotRow(snap)
	if err != nil {
		return err
	}
	run := toRunRow(rec)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&run).Select("*").Updates(run)
		if res.Error != nil {
			return fmt.Errorf("update run %s: %w", rec.ID(), res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, rec.ID())
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append snapshot %s/%d: %w", snap.SimulationID, snap.Tick, err)
		}
		return nil
	})
}

func (s *SQLStore) Snapshots(ctx context.Context, id string, p Page) ([]telemetry.TickSnapshot, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("simulation_id = ?", id).Order("tick ASC")
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	} else if p.Offset > 0 {
		// SQLite requires a LIMIT before OFFSET.
		q = q.Limit(math.MaxInt32)
	}
	var rows []snapshotRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load snapshots %s: %w", id, err)
	}
	out := make([]telemetry.TickSnapshot, 0, len(rows))
	for _, r := range rows {
		snap := telemetry.TickSnapshot{
			SimulationID:  r.SimulationID,
			Tick:          r.Tick,
			Timestamp:     r.Timestamp,
			TickTraffic:   r.TickTraffic,
			TickProcessed: r.TickProcessed,
			TickDropped:   r.TickDropped,
		}
		if err := json.Unmarshal([]byte(r.SliceMetrics), &snap.SliceMetrics); err != nil {
			return nil, fmt.Errorf("decode snapshot %s/%d: %w", id, r.Tick, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SQLStore) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("simulation_id = ?", id).Delete(&snapshotRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&runRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
