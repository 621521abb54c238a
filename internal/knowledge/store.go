package knowledge

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability/metrics"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/knowledge.log", "knowledge", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "knowledge")
	}
}

// UpsertParams carries one observation to record against the store.
type UpsertParams struct {
	CanonicalName string
	Aliases       []string
	EntryType     string
	Confidence    float64
	Provider      string
}

// Store is the narrow interface the orchestrator consumes. Backed by a
// durable database; the engine only reads and upserts, it never deletes.
type Store interface {
	Open() error
	Close() error

	// FindTrusted returns an entry only if its identification count has
	// reached the trust threshold or it has been expert reviewed.
	FindTrusted(ctx context.Context, name string) (*LocalEntry, error)
	// FindAny ignores the trust threshold. Used only as the last fallback
	// when neither cache nor providers produced anything.
	FindAny(ctx context.Context, name string) (*LocalEntry, error)
	// Upsert creates or updates the entry for params.CanonicalName:
	// the identification count increases by exactly 1 and confidence is
	// the running maximum across observations.
	Upsert(ctx context.Context, params *UpsertParams) (*LocalEntry, error)
	// SearchByText matches query as a substring of canonical names and
	// aliases, most identified first.
	SearchByText(ctx context.Context, query string, limit int) ([]LocalEntry, error)
	// TopIdentified returns the most frequently identified entries.
	TopIdentified(ctx context.Context, limit int) ([]LocalEntry, error)
}

// DataStore implements Store on a gorm database handle. SQLiteStore and
// MySQLStore embed it and provide Open.
type DataStore struct {
	DB             *gorm.DB
	TrustThreshold int
	Metrics        *metrics.KnowledgeMetrics
}

// New selects the configured backend and returns an unopened store.
func New(settings *conf.Settings, knowledgeMetrics *metrics.KnowledgeMetrics) (Store, error) {
	ds := DataStore{
		TrustThreshold: settings.Knowledge.TrustThreshold,
		Metrics:        knowledgeMetrics,
	}
	switch {
	case settings.Knowledge.SQLite.Enabled:
		return &SQLiteStore{DataStore: ds, Settings: settings}, nil
	case settings.Knowledge.MySQL.Enabled:
		return &MySQLStore{DataStore: ds, Settings: settings}, nil
	default:
		return nil, errors.Newf("no knowledge store backend enabled").
			Category(errors.CategoryConfiguration).
			Component("knowledge").
			Build()
	}
}

func (ds *DataStore) migrate() error {
	if err := ds.DB.AutoMigrate(&LocalEntry{}); err != nil {
		return errors.Newf("knowledge store migration failed: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Build()
	}
	return nil
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (ds *DataStore) findByName(ctx context.Context, name string) (*LocalEntry, error) {
	var entry LocalEntry
	err := ds.DB.WithContext(ctx).
		Where("LOWER(canonical_name) = ?", normalizeName(name)).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("no knowledge entry for %q", name).
				Category(errors.CategoryNotFound).
				Component("knowledge").
				Context("name", name).
				Build()
		}
		return nil, errors.Newf("knowledge lookup failed: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Build()
	}
	return &entry, nil
}

// FindTrusted implements Store.
func (ds *DataStore) FindTrusted(ctx context.Context, name string) (*LocalEntry, error) {
	entry, err := ds.findByName(ctx, name)
	if err != nil {
		ds.countLookup("miss")
		return nil, err
	}

	if entry.ExpertReviewed || entry.IdentificationCount >= ds.TrustThreshold {
		ds.countLookup("trusted_hit")
		return entry, nil
	}

	ds.countLookup("untrusted")
	return nil, errors.Newf("knowledge entry for %q below trust threshold", name).
		Category(errors.CategoryNotFound).
		Component("knowledge").
		Context("name", name).
		Context("identification_count", entry.IdentificationCount).
		Build()
}

// FindAny implements Store.
func (ds *DataStore) FindAny(ctx context.Context, name string) (*LocalEntry, error) {
	entry, err := ds.findByName(ctx, name)
	if err != nil {
		ds.countLookup("miss")
		return nil, err
	}
	ds.countLookup("any_hit")
	return entry, nil
}

// Upsert implements Store. The read-modify-write runs inside a transaction
// so concurrent observations of the same name cannot lose counter updates.
func (ds *DataStore) Upsert(ctx context.Context, params *UpsertParams) (*LocalEntry, error) {
	if params == nil || strings.TrimSpace(params.CanonicalName) == "" {
		return nil, errors.Newf("upsert requires a canonical name").
			Category(errors.CategoryValidation).
			Component("knowledge").
			Build()
	}

	entryType := params.EntryType
	if entryType == "" {
		entryType = EntryTypeSpecies
	}

	var result LocalEntry
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry LocalEntry
		err := lockedByName(tx, params.CanonicalName).First(&entry).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry = LocalEntry{
				CanonicalName:       params.CanonicalName,
				Aliases:             JoinAliases(params.Aliases),
				EntryType:           entryType,
				Confidence:          params.Confidence,
				IdentificationCount: 1,
				AutoStored:          true,
				ProviderOfOrigin:    params.Provider,
			}
			if createErr := tx.Create(&entry).Error; createErr != nil {
				return createErr
			}
		case err != nil:
			return err
		default:
			entry.IdentificationCount++
			if params.Confidence > entry.Confidence {
				entry.Confidence = params.Confidence
			}
			if merged := JoinAliases(append(entry.AliasList(), params.Aliases...)); merged != "" {
				entry.Aliases = merged
			}
			if saveErr := tx.Save(&entry).Error; saveErr != nil {
				return saveErr
			}
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, errors.Newf("knowledge upsert failed: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Context("name", params.CanonicalName).
			Build()
	}

	if ds.Metrics != nil {
		ds.Metrics.Upserts.WithLabelValues(result.EntryType).Inc()
	}
	logger.Debug("knowledge upsert",
		"name", result.CanonicalName,
		"count", result.IdentificationCount,
		"confidence", result.Confidence)
	return &result, nil
}

// SearchByText implements Store.
func (ds *DataStore) SearchByText(ctx context.Context, query string, limit int) ([]LocalEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + strings.ToLower(query) + "%"
	var entries []LocalEntry
	err := ds.DB.WithContext(ctx).
		Where("LOWER(canonical_name) LIKE ? OR LOWER(aliases) LIKE ?", pattern, pattern).
		Order("identification_count DESC, confidence DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Newf("knowledge search failed: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Context("query", query).
			Build()
	}
	return entries, nil
}

// TopIdentified implements Store.
func (ds *DataStore) TopIdentified(ctx context.Context, limit int) ([]LocalEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []LocalEntry
	err := ds.DB.WithContext(ctx).
		Order("identification_count DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Newf("knowledge query failed: %w", err).
			Category(errors.CategoryDatabase).
			Component("knowledge").
			Build()
	}
	return entries, nil
}

func (ds *DataStore) countLookup(outcome string) {
	if ds.Metrics != nil {
		ds.Metrics.Lookups.WithLabelValues(outcome).Inc()
	}
}

// lockedByName scopes a transaction query to one canonical name and takes a
// row lock where the dialect needs one. MySQL's repeatable-read snapshot lets
// two transactions read the same count and overwrite each other without
// FOR UPDATE; SQLite serializes writers on its own and rejects the syntax.
func lockedByName(tx *gorm.DB, name string) *gorm.DB {
	q := tx.Where("LOWER(canonical_name) = ?", normalizeName(name))
	if tx.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// performOpenRetry opens a gorm connection with a short bounded retry, as
// transient startup ordering against the database is common in deployments.
func performOpenRetry(open func() (*gorm.DB, error)) (*gorm.DB, error) {
	var db *gorm.DB
	var err error
	for attempt := range 3 {
		db, err = open()
		if err == nil {
			return db, nil
		}
		logger.Warn("knowledge store open failed, retrying",
			"attempt", attempt+1, "error", err)
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
	return nil, err
}
