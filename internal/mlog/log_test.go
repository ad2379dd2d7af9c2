package mlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-dogma/dogma/internal/mlog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]mlog.Level{
		"error":   mlog.ErrorLevel,
		"WARN":    mlog.WarnLevel,
		"warning": mlog.WarnLevel,
		"info":    mlog.InfoLevel,
		"":        mlog.InfoLevel,
		"debug":   mlog.DebugLevel,
	}

	for in, want := range cases {
		got, err := mlog.ParseLevel(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseLevelInvalidDefaultsToInfo(t *testing.T) {
	level, err := mlog.ParseLevel("bogus")
	assert.Error(t, err)
	assert.Equal(t, mlog.InfoLevel, level)
}

func TestDiscardNeverPanics(t *testing.T) {
	l := mlog.Discard
	l.Info("x")
	l.Infof("x %d", 1)
	l.Warn("x")
	l.Error("x")
	l.Debug("x")
	assert.NoError(t, l.Sync())
	assert.NotNil(t, l.WithFields("k", "v"))
}

func TestContextRoundTrip(t *testing.T) {
	assert.Equal(t, mlog.Discard, mlog.FromContext(context.Background()))

	ctx := mlog.IntoContext(context.Background(), mlog.Discard)
	assert.Equal(t, mlog.Discard, mlog.FromContext(ctx))
}
