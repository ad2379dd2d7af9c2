package mlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/mlog"
)

func TestNewZapProduction(t *testing.T) {
	logger, err := mlog.NewZap(true, "debug")
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("hello")
	logger.Infof("hello %s", "world")
	assert.NoError(t, logger.Sync())
}

func TestNewZapDevelopment(t *testing.T) {
	logger, err := mlog.NewZap(false, "info")
	require.NoError(t, err)
	require.NotNil(t, logger)

	derived := logger.WithFields("component", "test")
	require.NotNil(t, derived)
	derived.Warn("careful")
}

func TestNewZapInvalidLevelDefaultsToInfo(t *testing.T) {
	logger, err := mlog.NewZap(false, "not-a-level")
	require.NoError(t, err)
	require.NotNil(t, logger)
}
