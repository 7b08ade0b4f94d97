package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"smartmess-backend/config"
	"smartmess-backend/internal/model"
)

func TestInitSQLiteAndSeed(t *testing.T) {
	gdb, err := Init(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "file:db_init_test?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)

	seeds := []config.MessSeed{
		{ID: "alder", Name: "Alder Mess", Capacity: 120, ManagerName: "R. Iyer"},
		{ID: "oak", Name: "Oak Mess", Capacity: 90},
	}
	require.NoError(t, Seed(gdb, seeds))

	// Seeding again updates in place.
	seeds[0].Capacity = 150
	require.NoError(t, Seed(gdb, seeds))

	var messes []model.Mess
	require.NoError(t, gdb.Order("id").Find(&messes).Error)
	require.Len(t, messes, 2)
	assert.Equal(t, 150, messes[0].Capacity)
	assert.Equal(t, "R. Iyer", messes[0].ManagerName)
}

func TestInitUnknownDriver(t *testing.T) {
	_, err := Init(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, logLevel("silent"))
	assert.Equal(t, logger.Info, logLevel("INFO"))
	assert.Equal(t, logger.Warn, logLevel(""))
}
