// Package store is the gorm-backed repository for vulnerabilities, extracted
// features and queued scan tasks.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stywzn/vuln-sentinel/internal/model"
)

const featureBatchSize = 100

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PersistenceError reports a rejected write. The enclosing transaction has
// been rolled back; nothing from the call is visible.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store wraps a gorm handle. It is safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// New returns a Store over gdb.
func New(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// InsertVulnerabilities inserts every row whose cve_id is not yet stored and
// leaves existing rows untouched. The batch is one transaction. It returns
// how many rows were actually inserted.
func (s *Store) InsertVulnerabilities(ctx context.Context, vulns []model.Vulnerability) (int, error) {
	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range vulns {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "cve_id"}},
				DoNothing: true,
			}).Create(&vulns[i])
			if res.Error != nil {
				return fmt.Errorf("insert %s: %w", vulns[i].CVEID, res.Error)
			}
			inserted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Op: "insert vulnerabilities", Err: err}
	}
	return int(inserted), nil
}

// ListVulnerabilities returns all stored vulnerabilities in insertion order.
func (s *Store) ListVulnerabilities(ctx context.Context) ([]model.Vulnerability, error) {
	var out []model.Vulnerability
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list vulnerabilities: %w", err)
	}
	return out, nil
}

// SaveFeatures appends feature rows in one transaction.
func (s *Store) SaveFeatures(ctx context.Context, features []model.ExtractedFeature) error {
	if len(features) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&features, featureBatchSize).Error
	})
	if err != nil {
		return &PersistenceError{Op: "save features", Err: err}
	}
	return nil
}

// ListFeatures returns stored features, optionally restricted to one target.
func (s *Store) ListFeatures(ctx context.Context, target string) ([]model.ExtractedFeature, error) {
	q := s.db.WithContext(ctx).Order("id")
	if target != "" {
		q = q.Where("target_url = ?", target)
	}

	var out []model.ExtractedFeature
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return out, nil
}

// CreateTask stores a new scan task and fills in its id.
func (s *Store) CreateTask(ctx context.Context, task *model.ScanTask) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return &PersistenceError{Op: "create task", Err: err}
	}
	return nil
}

// GetTask loads a scan task by id.
func (s *Store) GetTask(ctx context.Context, id uint) (*model.ScanTask, error) {
	var task model.ScanTask
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &task, nil
}

// UpdateTask applies column updates to one task.
func (s *Store) UpdateTask(ctx context.Context, id uint, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.ScanTask{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return &PersistenceError{Op: "update task", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
