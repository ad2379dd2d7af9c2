package quota_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/quota"
)

func TestAllowUnlimitedByDefault(t *testing.T) {
	g := quota.New(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
	}
}

func TestAllowEnforcesPerRepoQuota(t *testing.T) {
	g := quota.New(nil)
	g.SetQuota("proj/repo", &quota.Quota{RequestQuota: 2, TimeWindowSeconds: 60})

	require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
	require.NoError(t, g.Allow(context.Background(), "proj", "repo"))

	err := g.Allow(context.Background(), "proj", "repo")
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindTooManyRequests))
}

func TestAllowClearingQuota(t *testing.T) {
	g := quota.New(nil)
	g.SetQuota("proj/repo", &quota.Quota{RequestQuota: 1, TimeWindowSeconds: 60})

	require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
	require.Error(t, g.Allow(context.Background(), "proj", "repo"))

	g.SetQuota("proj/repo", nil)
	require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
}

func TestAllowDefaultQuotaFallback(t *testing.T) {
	g := quota.New(nil)
	g.SetDefaultQuota(&quota.Quota{RequestQuota: 1, TimeWindowSeconds: 60})

	require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
	err := g.Allow(context.Background(), "proj", "repo")
	require.Error(t, err)
	assert.True(t, dogmaerr.Is(err, dogmaerr.KindTooManyRequests))
}

func TestPerRepoQuotaOverridesDefault(t *testing.T) {
	g := quota.New(nil)
	g.SetDefaultQuota(&quota.Quota{RequestQuota: 1, TimeWindowSeconds: 60})
	g.SetQuota("proj/repo", &quota.Quota{RequestQuota: 3, TimeWindowSeconds: 60})

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
	}
	require.Error(t, g.Allow(context.Background(), "proj", "repo"))

	// a different repo still falls back to the store-wide default.
	require.NoError(t, g.Allow(context.Background(), "proj", "other"))
	require.Error(t, g.Allow(context.Background(), "proj", "other"))
}

func TestSetDefaultQuotaNilDisables(t *testing.T) {
	g := quota.New(nil)
	g.SetDefaultQuota(&quota.Quota{RequestQuota: 1, TimeWindowSeconds: 60})
	g.SetDefaultQuota(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Allow(context.Background(), "proj", "repo"))
	}
}
