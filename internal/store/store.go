// Package store keeps a local ledger of provisioning runs in SQLite so
// operators can review what was built, when, and how it ended.
package store

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Run is one provisioning attempt, terminal state included.
type Run struct {
	ID            string `gorm:"primaryKey"`
	VMID          int    `gorm:"column:vm_id;index"`
	Name          string
	OSClass       string
	State         string
	FailedStep    string
	Addr          string
	ForceRecreate bool
	Resumed       bool
	Created       bool
	DurationMS    int64
	CreatedAt     time.Time
}

// Store wraps the runs database.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the ledger at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open run ledger %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrate run ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRunID mints a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Record inserts one finished run.
func (s *Store) Record(run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns the newest runs, most recent first.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := s.db.Order("created_at desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// LastForVM returns the most recent run touching a VMID, or nil.
func (s *Store) LastForVM(vmid int) (*Run, error) {
	var run Run
	err := s.db.Where("vm_id = ?", vmid).Order("created_at desc").First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find run for vm %d: %w", vmid, err)
	}
	return &run, nil
}
