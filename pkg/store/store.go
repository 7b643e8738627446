// Package store persists reconciled runs through gorm.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/olcf/harmony/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ErrRunNotFound is returned when no run matches a lookup.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistence for runs, their events and the seed catalogs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Catalogs.
	SeedEventTypes(ctx context.Context, types []EventType) error
	SeedCheckCodes(ctx context.Context, codes []CheckCode) error
	ListEventTypes(ctx context.Context) ([]EventType, error)
	ListCheckCodes(ctx context.Context) ([]CheckCode, error)
	CheckCodeExists(ctx context.Context, code int) (bool, error)

	// Runs.
	GetRunByHarnessUID(ctx context.Context, uid string) (*Run, error)
	CreateRun(ctx context.Context, run *Run) error
	UpdateOpenRun(ctx context.Context, id uint, fields map[string]any) (bool, error)
	ListRuns(ctx context.Context, f RunFilter) ([]Run, int64, error)
	ListApplications(ctx context.Context) ([]string, error)

	// Run events.
	RunEventExists(ctx context.Context, runID, eventTypeID uint) (bool, error)
	CreateRunEvent(ctx context.Context, ev *RunEvent) error
	ListRunEvents(ctx context.Context, runID uint) ([]RunEvent, error)

	// Annotations.
	CreateAnnotation(ctx context.Context, a *FailureAnnotation) error
	ListAnnotations(ctx context.Context, runID uint) ([]FailureAnnotation, error)

	Summary(ctx context.Context) (*Summary, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

func (s *store) dialector() (gorm.Dialector, error) {
	switch s.cfg.Driver {
	case "sqlite":
		return sqlite.Open(s.cfg.SQLite.Path), nil
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)

		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			s.cfg.MySQL.User,
			s.cfg.MySQL.Password,
			s.cfg.MySQL.Host,
			s.cfg.MySQL.Port,
			s.cfg.MySQL.Database,
		)

		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	dialector, err := s.dialector()
	if err != nil {
		return err
	}

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: s.cfg.TablePrefix,
		},
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	// An in-memory sqlite database exists per connection.
	if s.cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else if s.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&CheckCode{},
		&EventType{},
		&Run{},
		&RunEvent{},
		&FailureAnnotation{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"driver":       s.cfg.Driver,
		"table_prefix": s.cfg.TablePrefix,
	}).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SeedEventTypes inserts or renames event types keyed by code.
func (s *store) SeedEventTypes(ctx context.Context, types []EventType) error {
	for _, t := range types {
		var existing EventType

		result := s.db.WithContext(ctx).
			Where("code = ?", t.Code).
			Assign(EventType{Name: t.Name}).
			FirstOrCreate(&existing, EventType{Code: t.Code})
		if result.Error != nil {
			return fmt.Errorf("seeding event type %d: %w", t.Code, result.Error)
		}
	}

	return nil
}

// SeedCheckCodes inserts or re-describes check codes keyed by code.
func (s *store) SeedCheckCodes(ctx context.Context, codes []CheckCode) error {
	for _, c := range codes {
		var existing CheckCode

		result := s.db.WithContext(ctx).
			Where("code = ?", c.Code).
			Assign(CheckCode{Description: c.Description}).
			FirstOrCreate(&existing, CheckCode{Code: c.Code})
		if result.Error != nil {
			return fmt.Errorf("seeding check code %d: %w", c.Code, result.Error)
		}
	}

	return nil
}

func (s *store) ListEventTypes(ctx context.Context) ([]EventType, error) {
	var types []EventType
	if err := s.db.WithContext(ctx).
		Order("code ASC").
		Find(&types).Error; err != nil {
		return nil, fmt.Errorf("listing event types: %w", err)
	}

	return types, nil
}

func (s *store) ListCheckCodes(ctx context.Context) ([]CheckCode, error) {
	var codes []CheckCode
	if err := s.db.WithContext(ctx).
		Order("code ASC").
		Find(&codes).Error; err != nil {
		return nil, fmt.Errorf("listing check codes: %w", err)
	}

	return codes, nil
}

// CheckCodeExists reports whether code is a legal check_status value.
func (s *store) CheckCodeExists(ctx context.Context, code int) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&CheckCode{}).
		Where("code = ?", code).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking check code %d: %w", code, err)
	}

	return count > 0, nil
}

// GetRunByHarnessUID returns ErrRunNotFound when the UID has no row yet.
func (s *store) GetRunByHarnessUID(ctx context.Context, uid string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("harness_uid = ?", uid).
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("getting run by harness uid: %w", err)
	}

	return &run, nil
}

func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).
		Omit("Check").
		Create(run).Error; err != nil {
		return fmt.Errorf("creating run %s: %w", run.HarnessUID, err)
	}

	return nil
}

// UpdateOpenRun applies fields to a run that is not done yet. It reports
// false when the row is missing or already done.
func (s *store) UpdateOpenRun(ctx context.Context, id uint, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}

	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND done = ?", id, false).
		Updates(fields)
	if result.Error != nil {
		return false, fmt.Errorf("updating run %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ListRuns returns one page of runs and the total number of matches,
// ordered by application, test and harness UID.
func (s *store) ListRuns(ctx context.Context, f RunFilter) ([]Run, int64, error) {
	q := s.db.WithContext(ctx).Model(&Run{})

	if f.Application != "" {
		q = q.Where("application = ?", f.Application)
	}

	if f.Test != "" {
		q = q.Where("testname = ?", f.Test)
	}

	if f.System != "" {
		q = q.Where("system = ?", f.System)
	}

	if f.Done != nil {
		q = q.Where("done = ?", *f.Done)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var runs []Run
	if err := q.
		Order("application ASC").
		Order("testname ASC").
		Order("harness_uid ASC").
		Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}

	return runs, total, nil
}

func (s *store) ListApplications(ctx context.Context) ([]string, error) {
	var apps []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Distinct("application").
		Order("application ASC").
		Pluck("application", &apps).Error; err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}

	return apps, nil
}

func (s *store) RunEventExists(ctx context.Context, runID, eventTypeID uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&RunEvent{}).
		Where("run_id = ? AND event_type_id = ?", runID, eventTypeID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking run event: %w", err)
	}

	return count > 0, nil
}

func (s *store) CreateRunEvent(ctx context.Context, ev *RunEvent) error {
	if err := s.db.WithContext(ctx).
		Omit("EventType").
		Create(ev).Error; err != nil {
		return fmt.Errorf("creating run event: %w", err)
	}

	return nil
}

// ListRunEvents returns a run's events with their types, oldest first.
func (s *store) ListRunEvents(ctx context.Context, runID uint) ([]RunEvent, error) {
	var events []RunEvent
	if err := s.db.WithContext(ctx).
		Preload("EventType").
		Where("run_id = ?", runID).
		Order("event_time ASC").
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing run events: %w", err)
	}

	return events, nil
}

func (s *store) CreateAnnotation(ctx context.Context, a *FailureAnnotation) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("creating annotation: %w", err)
	}

	return nil
}

func (s *store) ListAnnotations(ctx context.Context, runID uint) ([]FailureAnnotation, error) {
	var annotations []FailureAnnotation
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&annotations).Error; err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}

	return annotations, nil
}

// Summary counts rows in every table.
func (s *store) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary

	counts := []struct {
		model any
		open  bool
		dest  *int64
	}{
		{model: &Run{}, dest: &sum.Runs},
		{model: &Run{}, open: true, dest: &sum.OpenRuns},
		{model: &RunEvent{}, dest: &sum.RunEvents},
		{model: &EventType{}, dest: &sum.EventTypes},
		{model: &CheckCode{}, dest: &sum.CheckCodes},
		{model: &FailureAnnotation{}, dest: &sum.Annotations},
	}

	for _, c := range counts {
		q := s.db.WithContext(ctx).Model(c.model)
		if c.open {
			q = q.Where("done = ?", false)
		}

		if err := q.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	return &sum, nil
}
