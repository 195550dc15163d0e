package database

import (
	"context"
	"errors"
	"testing"

	"attention-monitor/pkg/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_AppliesPoolSettings(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	cfg := config.DefaultDatabaseConfig()
	cfg.MaxConns = 3
	mock.ExpectPing()

	require.NoError(t, setup(context.Background(), db, &cfg))
	assert.Equal(t, 3, db.Stats().MaxOpenConnections)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetup_PingError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	cfg := config.DefaultDatabaseConfig()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = setup(context.Background(), db, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
