package seeder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub019/internal/seeder"
	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/testsupport"
)

func TestSeederRun(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Date(2024, 11, 30, 12, 0, 0, 0, time.UTC)

	s := seeder.NewSeeder(testsupport.NewTestDBManager(db), testsupport.GetLogger(), 90).WithSeed(7, now)
	s.Days = 10
	require.NoError(t, s.Run(context.Background()))

	active, err := sites.ListActive(db)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	var visits int64
	require.NoError(t, db.Model(&storage.Visit{}).Count(&visits).Error)
	assert.Equal(t, int64(90), visits)

	var locations int64
	require.NoError(t, db.Model(&storage.VisitorLocation{}).Count(&locations).Error)
	assert.Equal(t, visits, locations)

	var outside int64
	require.NoError(t, db.Model(&storage.Visit{}).
		Where("date < ? OR date > ?", "2024-11-21", "2024-11-30").
		Count(&outside).Error)
	assert.Zero(t, outside)

	var bouncedMulti int64
	require.NoError(t, db.Model(&storage.Visit{}).Where("bounced = ? AND page_views > 1", true).Count(&bouncedMulti).Error)
	assert.Zero(t, bouncedMulti)
}

func TestSeederReusesSitesAndResources(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Date(2024, 11, 30, 12, 0, 0, 0, time.UTC)
	s := seeder.NewSeeder(testsupport.NewTestDBManager(db), testsupport.GetLogger(), 10).WithSeed(1, now)
	s.Domains = []string{"solo.example.com"}

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Run(context.Background()))

	active, err := sites.ListActive(db)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	var resources, visits int64
	require.NoError(t, db.Model(&storage.Resource{}).Count(&resources).Error)
	require.NoError(t, db.Model(&storage.Visit{}).Count(&visits).Error)
	assert.Equal(t, int64(8), resources)
	assert.Equal(t, int64(20), visits)
}
