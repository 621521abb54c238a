package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	settings := &conf.Settings{}
	settings.Knowledge.TrustThreshold = 5
	settings.Knowledge.SQLite.Enabled = true
	// A uniquely named shared in-memory database keeps gorm's connection
	// pool on the same data while isolating tests from each other.
	settings.Knowledge.SQLite.Path = fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000",
		strings.ReplaceAll(t.Name(), "/", "_"))

	store, err := New(settings, nil)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertCreatesAndUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Upsert(ctx, &UpsertParams{
		CanonicalName: "Monstera deliciosa",
		Aliases:       []string{"Swiss Cheese Plant"},
		Confidence:    0.6,
		Provider:      "plantnet",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.IdentificationCount)
	assert.InDelta(t, 0.6, first.Confidence, 1e-9)
	assert.True(t, first.AutoStored)
	assert.Equal(t, "plantnet", first.ProviderOfOrigin)
	assert.Equal(t, EntryTypeSpecies, first.EntryType)

	second, err := store.Upsert(ctx, &UpsertParams{
		CanonicalName: "Monstera deliciosa",
		Confidence:    0.8,
		Provider:      "plantid",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same canonical name must map to the same entry")
	assert.Equal(t, 2, second.IdentificationCount)
	assert.InDelta(t, 0.8, second.Confidence, 1e-9)
	assert.Equal(t, "plantnet", second.ProviderOfOrigin, "origin provider is recorded once")

	// A weaker later observation increments the counter but never lowers
	// the confidence ceiling.
	third, err := store.Upsert(ctx, &UpsertParams{
		CanonicalName: "Monstera deliciosa",
		Confidence:    0.4,
		Provider:      "plantnet",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, third.IdentificationCount)
	assert.InDelta(t, 0.8, third.Confidence, 1e-9)
}

func TestUpsertMatchesCaseInsensitively(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Ficus elastica", Confidence: 0.7})
	require.NoError(t, err)

	entry, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "ficus  ELASTICA", Confidence: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.IdentificationCount)
	assert.Equal(t, "Ficus elastica", entry.CanonicalName)
}

func TestUpsertMergesAliases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &UpsertParams{
		CanonicalName: "Sansevieria trifasciata",
		Aliases:       []string{"Snake Plant"},
		Confidence:    0.9,
	})
	require.NoError(t, err)

	entry, err := store.Upsert(ctx, &UpsertParams{
		CanonicalName: "Sansevieria trifasciata",
		Aliases:       []string{"snake plant", "Mother-in-law's Tongue"},
		Confidence:    0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Snake Plant", "Mother-in-law's Tongue"}, entry.AliasList())
}

func TestUpsertRejectsEmptyName(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Upsert(context.Background(), &UpsertParams{CanonicalName: "  "})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestFindTrusted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for range 4 {
		_, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Monstera deliciosa", Confidence: 0.7})
		require.NoError(t, err)
	}

	t.Run("below threshold", func(t *testing.T) {
		_, err := store.FindTrusted(ctx, "Monstera deliciosa")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("at threshold", func(t *testing.T) {
		_, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Monstera deliciosa", Confidence: 0.7})
		require.NoError(t, err)

		entry, err := store.FindTrusted(ctx, "monstera deliciosa")
		require.NoError(t, err)
		assert.Equal(t, 5, entry.IdentificationCount)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := store.FindTrusted(ctx, "Nonexistus plantus")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestFindTrustedExpertReviewedBypassesThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Orchidaceae phalaenopsis", Confidence: 0.6})
	require.NoError(t, err)

	ds := store.(*SQLiteStore)
	require.NoError(t, ds.DB.Model(&LocalEntry{}).
		Where("id = ?", entry.ID).
		Update("expert_reviewed", true).Error)

	found, err := store.FindTrusted(ctx, "Orchidaceae phalaenopsis")
	require.NoError(t, err)
	assert.True(t, found.ExpertReviewed)
}

func TestFindAnyIgnoresThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Ficus elastica", Confidence: 0.5})
	require.NoError(t, err)

	entry, err := store.FindAny(ctx, "Ficus elastica")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.IdentificationCount)
}

func TestSearchByText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []UpsertParams{
		{CanonicalName: "Monstera deliciosa", Aliases: []string{"Swiss Cheese Plant"}, Confidence: 0.9},
		{CanonicalName: "Monstera adansonii", Confidence: 0.8},
		{CanonicalName: "Sansevieria trifasciata", Aliases: []string{"Snake Plant"}, Confidence: 0.7},
	}
	for i := range seed {
		_, err := store.Upsert(ctx, &seed[i])
		require.NoError(t, err)
	}
	// Make deliciosa the most identified so ordering is observable.
	_, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Monstera deliciosa", Confidence: 0.9})
	require.NoError(t, err)

	t.Run("canonical name substring", func(t *testing.T) {
		entries, err := store.SearchByText(ctx, "monstera", 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "Monstera deliciosa", entries[0].CanonicalName)
	})

	t.Run("alias substring", func(t *testing.T) {
		entries, err := store.SearchByText(ctx, "snake", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Sansevieria trifasciata", entries[0].CanonicalName)
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := store.SearchByText(ctx, "a", 1)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("blank query", func(t *testing.T) {
		entries, err := store.SearchByText(ctx, "   ", 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestUpsertConcurrentCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Serialize on one connection so this exercises the transaction logic
	// rather than SQLite's writer locking.
	sqlDB, err := store.(*SQLiteStore).DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const writers = 10
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Upsert(ctx, &UpsertParams{CanonicalName: "Monstera deliciosa", Confidence: 0.7})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := store.FindAny(ctx, "Monstera deliciosa")
	require.NoError(t, err)
	assert.Equal(t, writers, entry.IdentificationCount, "no lost counter updates under concurrency")
}

func TestLockedByNamePerDialect(t *testing.T) {
	t.Run("mysql reads for update", func(t *testing.T) {
		db, err := gorm.Open(mysql.New(mysql.Config{
			DSN:                       "floraid:floraid@tcp(127.0.0.1:3306)/floraid?charset=utf8mb4&parseTime=True&loc=UTC",
			SkipInitializeWithVersion: true,
		}), &gorm.Config{
			DryRun:               true,
			DisableAutomaticPing: true,
			Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		})
		require.NoError(t, err)

		var entry LocalEntry
		stmt := lockedByName(db.Model(&LocalEntry{}), "Ficus lyrata").Find(&entry).Statement
		assert.Contains(t, stmt.SQL.String(), "FOR UPDATE",
			"repeatable read needs an explicit row lock for the read-modify-write")
	})

	t.Run("sqlite plain read", func(t *testing.T) {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			DryRun: true,
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		require.NoError(t, err)

		var entry LocalEntry
		stmt := lockedByName(db.Model(&LocalEntry{}), "Ficus lyrata").Find(&entry).Statement
		assert.NotContains(t, stmt.SQL.String(), "FOR UPDATE",
			"SQLite rejects the locking syntax; its writer lock already serializes")
	})
}
