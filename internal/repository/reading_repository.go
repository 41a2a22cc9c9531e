package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/thermoscan/internal/domain"
)

// ReadingRecord is a row of the session store. Timestamp holds the canonical
// domain.StoredTimestampLayout string; older rows may carry naive or
// offset-suffixed forms, which ToReading tolerates.
type ReadingRecord struct {
	ID          uint    `gorm:"primaryKey"`
	Temperature float64 `gorm:"column:temperature"`
	Status      string  `gorm:"column:status;size:16"`
	Model       string  `gorm:"column:model;size:32"`
	Timestamp   string  `gorm:"column:timestamp;size:40;index"`
}

// TableName overrides the default table name.
func (ReadingRecord) TableName() string {
	return "readings"
}

// ToReading converts the row back into a domain reading.
func (r ReadingRecord) ToReading() (domain.Reading, error) {
	ts, err := domain.ParseStored(r.Timestamp)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("reading %d: %w", r.ID, err)
	}
	return domain.Reading{
		Temperature: r.Temperature,
		Status:      domain.Status(r.Status),
		Model:       domain.Provider(r.Model),
		Timestamp:   ts,
	}, nil
}

// StatusAggregate summarises the rows sharing one status.
type StatusAggregate struct {
	Status  string
	Count   int64
	MinTemp float64
	MaxTemp float64
	AvgTemp float64
}

// OpenDatabase opens the session store for driver "sqlite" or "postgres".
func OpenDatabase(ctx context.Context, driver, dsn string, logLevel gormlogger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// ReadingRepository is the append-only session store.
type ReadingRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewReadingRepository creates a new repository instance.
func NewReadingRepository(db *gorm.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{db: db, logger: logger.Named("reading_repository")}
}

// AutoMigrate ensures the schema is available and rewrites legacy timestamps
// into the canonical layout, so ordering by the column is chronological.
func (r *ReadingRepository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&ReadingRecord{}); err != nil {
		return err
	}
	return r.normalizeTimestamps(ctx)
}

// normalizeTimestamps rewrites rows whose timestamp is parseable but not
// canonical. Unparseable rows are left in place and logged.
func (r *ReadingRepository) normalizeTimestamps(ctx context.Context) error {
	var legacy []ReadingRecord
	err := r.db.WithContext(ctx).
		Where("timestamp NOT LIKE ? OR LENGTH(timestamp) <> ?", "%Z", len(domain.StoredTimestampLayout)).
		Find(&legacy).Error
	if err != nil {
		return fmt.Errorf("scan legacy timestamps: %w", err)
	}
	if len(legacy) == 0 {
		return nil
	}

	rewritten := 0
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range legacy {
			ts, err := domain.ParseStored(rec.Timestamp)
			if err != nil {
				r.logger.Warn("leaving row with unreadable timestamp", zap.Uint("id", rec.ID), zap.String("timestamp", rec.Timestamp))
				continue
			}
			canonical := domain.FormatStored(ts)
			if canonical == rec.Timestamp {
				continue
			}
			if err := tx.Model(&ReadingRecord{}).Where("id = ?", rec.ID).Update("timestamp", canonical).Error; err != nil {
				return err
			}
			rewritten++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("normalize legacy timestamps: %w", err)
	}
	r.logger.Info("normalized legacy timestamps", zap.Int("rows", rewritten))
	return nil
}

// Reset empties the store so it holds only the current run.
func (r *ReadingRepository) Reset(ctx context.Context) error {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ReadingRecord{})
	if res.Error != nil {
		return domain.ErrLocalStore.Wrap(res.Error)
	}
	r.logger.Info("session store reset", zap.Int64("deleted", res.RowsAffected))
	return nil
}

// Save appends a stamped reading.
func (r *ReadingRepository) Save(ctx context.Context, reading domain.Reading) (*ReadingRecord, error) {
	if reading.Timestamp.IsZero() {
		return nil, domain.ErrLocalStore.Withf("reading has no timestamp")
	}
	record := &ReadingRecord{
		Temperature: reading.Temperature,
		Status:      string(reading.Status),
		Model:       string(reading.Model),
		Timestamp:   domain.FormatStored(reading.Timestamp),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, domain.ErrLocalStore.Wrap(err)
	}
	return record, nil
}

// Recent returns up to limit rows, newest first.
func (r *ReadingRepository) Recent(ctx context.Context, limit int) ([]ReadingRecord, error) {
	var records []ReadingRecord
	if err := r.newestFirst(ctx).Limit(limit).Find(&records).Error; err != nil {
		return nil, domain.ErrLocalStore.Wrap(err)
	}
	return records, nil
}

// All returns every row, newest first.
func (r *ReadingRepository) All(ctx context.Context) ([]ReadingRecord, error) {
	var records []ReadingRecord
	if err := r.newestFirst(ctx).Find(&records).Error; err != nil {
		return nil, domain.ErrLocalStore.Wrap(err)
	}
	return records, nil
}

// AggregateByStatus returns count and temperature bounds per status.
func (r *ReadingRepository) AggregateByStatus(ctx context.Context) ([]StatusAggregate, error) {
	var rows []StatusAggregate
	err := r.db.WithContext(ctx).
		Model(&ReadingRecord{}).
		Select("status, COUNT(*) AS count, MIN(temperature) AS min_temp, MAX(temperature) AS max_temp, AVG(temperature) AS avg_temp").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.ErrLocalStore.Wrap(err)
	}
	return rows, nil
}

func (r *ReadingRepository) newestFirst(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
}
