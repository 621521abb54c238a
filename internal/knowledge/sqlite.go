package knowledge

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
)

// SQLiteStore is the SQLite-backed knowledge store.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open connects to the SQLite database and runs migrations.
func (s *SQLiteStore) Open() error {
	path := s.Settings.Knowledge.SQLite.Path
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Newf("failed to create knowledge store directory: %w", err).
				Category(errors.CategoryFileIO).
				Component("knowledge").
				Context("path", dir).
				Build()
		}
	}

	db, err := performOpenRetry(func() (*gorm.DB, error) {
		return gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	})
	if err != nil {
		return errors.Newf("failed to open sqlite knowledge store: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Context("path", path).
			Build()
	}

	s.DB = db
	logger.Info("knowledge store opened", "backend", "sqlite", "path", path)
	return s.migrate()
}
