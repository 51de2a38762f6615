// Package journal keeps a SQLite record of saver notifications.
package journal

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tuxx/fancysaver/internal/clock"
	"github.com/tuxx/fancysaver/internal/manager"
)

const (
	defaultDBName = "journal.db"
	defaultDBDir  = ".local/share/fancysaver"
)

// Kind names a journaled notification.
type Kind string

const (
	KindActivated     Kind = "activated"
	KindSwitchGreeter Kind = "switch_greeter"
	KindLock          Kind = "lock"
	KindDeactivated   Kind = "deactivated"
)

// Event is one journal row.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Kind      Kind      `gorm:"not null;index" json:"kind"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Journal is a handle on the journal database.
type Journal struct {
	db    *gorm.DB
	clock clock.Clock
}

// DefaultPath returns ~/.local/share/fancysaver/journal.db, creating the
// directory.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}

	dir := filepath.Join(homeDir, defaultDBDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create journal directory")
	}
	return filepath.Join(dir, defaultDBName), nil
}

// Open opens or creates the journal at path and migrates the schema. An
// empty path uses DefaultPath.
func Open(path string, c clock.Clock) (*Journal, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, errors.Wrap(err, "failed to initialize journal schema")
	}

	return &Journal{db: db, clock: c}, nil
}

// Record stores kind at the current time.
func (j *Journal) Record(kind Kind) error {
	event := &Event{Timestamp: j.clock.Now(), Kind: kind}
	if err := j.db.Create(event).Error; err != nil {
		return errors.Wrapf(err, "failed to record %s", kind)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	var events []Event
	result := j.db.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&events)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query journal")
	}
	return events, nil
}

// Since returns events at or after since, oldest first.
func (j *Journal) Since(since time.Time) ([]Event, error) {
	var events []Event
	result := j.db.Where("timestamp >= ?", since).Order("timestamp ASC").Order("id ASC").Find(&events)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query journal")
	}
	return events, nil
}

// Prune deletes events older than before and returns how many went.
func (j *Journal) Prune(before time.Time) (int64, error) {
	result := j.db.Where("timestamp < ?", before).Delete(&Event{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to prune journal")
	}
	return result.RowsAffected, nil
}

// Listener records the manager's notifications. Write failures go to
// onError when it is set.
func (j *Journal) Listener(onError func(error)) manager.Listener {
	record := func(kind Kind) func() {
		return func() {
			if err := j.Record(kind); err != nil && onError != nil {
				onError(err)
			}
		}
	}
	return manager.Listener{
		Activated:     record(KindActivated),
		SwitchGreeter: record(KindSwitchGreeter),
		Lock:          record(KindLock),
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying sql.DB")
	}
	return sqlDB.Close()
}
