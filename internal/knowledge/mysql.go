package knowledge

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
)

// MySQLStore is the MySQL-backed knowledge store.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// Open connects to the MySQL database and runs migrations.
func (s *MySQLStore) Open() error {
	cfg := s.Settings.Knowledge.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := performOpenRetry(func() (*gorm.DB, error) {
		return gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	})
	if err != nil {
		return errors.Newf("failed to open mysql knowledge store: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}

	s.DB = db
	logger.Info("knowledge store opened", "backend", "mysql",
		"host", cfg.Host, "database", cfg.Database)
	return s.migrate()
}
