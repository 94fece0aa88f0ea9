package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the kvstore package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("kvstore")
	})
	return pkgLogger
}

// DefaultSlowQueryThreshold is used when the settings leave it unset
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// GormStore implements Store on SQLite or MySQL through GORM
type GormStore struct {
	db       *gorm.DB
	dialect  string
	recorder metrics.Recorder
}

// Option configures a GormStore
type Option func(*GormStore)

// WithRecorder records every operation as "kv_<op>"
func WithRecorder(rec metrics.Recorder) Option {
	return func(s *GormStore) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// Open connects to the configured database and migrates the schema
func Open(settings *conf.DatabaseSettings, opts ...Option) (*GormStore, error) {
	slow := settings.SlowThreshold
	if slow == 0 {
		slow = DefaultSlowQueryThreshold
	}
	// options are applied twice so the query logger can report into the same recorder
	probe := &GormStore{recorder: metrics.NopRecorder{}}
	for _, opt := range opts {
		opt(probe)
	}
	gormLogger := logger.NewGormQueryLogger(GetLogger().Module("gorm"), slow, sqlObserver(probe.recorder))

	var dialector gorm.Dialector
	switch settings.Driver {
	case conf.DriverSQLite, "":
		path := settings.SQLite.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, dbError(err, "open")
			}
		}
		dialector = sqlite.Open(path)
	case conf.DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			settings.MySQL.Username, settings.MySQL.Password,
			settings.MySQL.Host, settings.MySQL.Port, settings.MySQL.Database)
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("unsupported database driver %q", settings.Driver).
			Component("kvstore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, dbError(err, "open")
	}
	return New(db, opts...)
}

// sqlObserver records every statement as "kv_sql"
func sqlObserver(rec metrics.Recorder) logger.QueryObserver {
	return func(elapsed time.Duration, err error) {
		rec.RecordDuration("kv_sql", elapsed.Seconds())
		if err != nil {
			rec.RecordOperation("kv_sql", "error")
			rec.RecordError("kv_sql", string(errors.CategoryDatabase))
			return
		}
		rec.RecordOperation("kv_sql", "success")
	}
}

// New wraps an open GORM connection and migrates the schema
func New(db *gorm.DB, opts ...Option) (*GormStore, error) {
	s := &GormStore{db: db, dialect: db.Dialector.Name(), recorder: metrics.NopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}

	if s.dialect == "sqlite" {
		// one connection serialises writers and keeps in-memory databases shared
		sqlDB, err := db.DB()
		if err != nil {
			return nil, dbError(err, "open")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Entry{}, &ListItem{}); err != nil {
		return nil, dbError(err, "migrate")
	}
	GetLogger().Debug("key-value store ready", logger.String("dialect", s.dialect))
	return s, nil
}

// DB exposes the GORM handle for tests and maintenance commands
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) observe(op string, start time.Time, err error) {
	op = "kv_" + op
	s.recorder.RecordDuration(op, time.Since(start).Seconds())
	if err != nil && !errors.IsNotFound(err) {
		s.recorder.RecordOperation(op, metrics.StatusError)
		s.recorder.RecordError(op, string(errors.CategoryOf(err)))
		return
	}
	s.recorder.RecordOperation(op, metrics.StatusSuccess)
}

// Get returns the value of id in table
func (s *GormStore) Get(ctx context.Context, table, id string) (value []byte, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	var entry Entry
	res := s.db.WithContext(ctx).Where("bucket = ? AND id = ?", table, id).Limit(1).Find(&entry)
	if res.Error != nil {
		return nil, dbError(res.Error, "get")
	}
	if res.RowsAffected == 0 {
		return nil, notFound(table, id)
	}
	return entry.Value, nil
}

// Set creates or replaces id in table
func (s *GormStore) Set(ctx context.Context, table, id string, value []byte) (err error) {
	defer func(start time.Time) { s.observe("set", start, err) }(time.Now())

	entry := Entry{Table: table, ID: id, Value: value, UpdatedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry)
	return dbError(res.Error, "set")
}

// Values returns every row of table sorted by id
func (s *GormStore) Values(ctx context.Context, table string) (records []Record, err error) {
	defer func(start time.Time) { s.observe("values", start, err) }(time.Now())

	var entries []Entry
	if err := s.db.WithContext(ctx).Where("bucket = ?", table).Order("id").Find(&entries).Error; err != nil {
		return nil, dbError(err, "values")
	}
	records = make([]Record, len(entries))
	for i, e := range entries {
		records[i] = Record{ID: e.ID, Value: e.Value}
	}
	return records, nil
}

// Delete removes id from table
func (s *GormStore) Delete(ctx context.Context, table, id string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	res := s.db.WithContext(ctx).Where("bucket = ? AND id = ?", table, id).Delete(&Entry{})
	return dbError(res.Error, "delete")
}

// Drop removes every row of table
func (s *GormStore) Drop(ctx context.Context, table string) (err error) {
	defer func(start time.Time) { s.observe("drop", start, err) }(time.Now())

	res := s.db.WithContext(ctx).Where("bucket = ?", table).Delete(&Entry{})
	return dbError(res.Error, "drop")
}

// ErrSkip makes Update leave the row unchanged
var ErrSkip = errors.NewStd("kvstore: skip update")

// Update runs fn on the current value inside a transaction and stores the result.
// On MySQL the row is locked for the duration; SQLite serialises writers itself.
func (s *GormStore) Update(ctx context.Context, table, id string, fn UpdateFunc) (err error) {
	defer func(start time.Time) { s.observe("update", start, err) }(time.Now())

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("bucket = ? AND id = ?", table, id).Limit(1)
		if s.dialect == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var entry Entry
		res := query.Find(&entry)
		if res.Error != nil {
			return res.Error
		}
		exists := res.RowsAffected > 0

		var current []byte
		if exists {
			current = entry.Value
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		entry = Entry{Table: table, ID: id, Value: next, UpdatedAt: time.Now().UTC()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&entry).Error
	})
	if errors.Is(err, ErrSkip) {
		return nil
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		// errors raised by fn keep their own category
		return err
	}
	return dbError(err, "update")
}

// Push appends value to list
func (s *GormStore) Push(ctx context.Context, list string, value []byte) (err error) {
	defer func(start time.Time) { s.observe("push", start, err) }(time.Now())

	item := ListItem{List: list, Value: value, CreatedAt: time.Now().UTC()}
	return dbError(s.db.WithContext(ctx).Create(&item).Error, "push")
}

// Range returns every value of list in insertion order
func (s *GormStore) Range(ctx context.Context, list string) (values [][]byte, err error) {
	defer func(start time.Time) { s.observe("range", start, err) }(time.Now())

	var items []ListItem
	if err := s.db.WithContext(ctx).Where("list_name = ?", list).Order("seq").Find(&items).Error; err != nil {
		return nil, dbError(err, "range")
	}
	values = make([][]byte, len(items))
	for i, item := range items {
		values[i] = item.Value
	}
	return values, nil
}

// Truncate clears list
func (s *GormStore) Truncate(ctx context.Context, list string) (err error) {
	defer func(start time.Time) { s.observe("truncate", start, err) }(time.Now())

	return dbError(s.db.WithContext(ctx).Where("list_name = ?", list).Delete(&ListItem{}).Error, "truncate")
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return dbError(sqlDB.Close(), "close")
}

func dbError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.New(err).
		Component("kvstore").
		Category(errors.CategoryDatabase).
		Op(op).
		Build()
}

func notFound(table, id string) error {
	return errors.Newf("%s/%s not found", table, id).
		Component("kvstore").
		Category(errors.CategoryNotFound).
		Context("table", table).
		Context("id", id).
		Build()
}
