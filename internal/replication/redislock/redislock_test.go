package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElectorKeyDefaultZone(t *testing.T) {
	e := NewElector(nil, "", time.Second, nil)
	assert.Equal(t, "dogma:leader", e.key())
}

func TestElectorKeyNamedZone(t *testing.T) {
	e := NewElector(nil, "us-east", time.Second, nil)
	assert.Equal(t, "dogma:leader:zone:us-east", e.key())
}

func TestElectorIsLeaderDefaultsFalse(t *testing.T) {
	e := NewElector(nil, "", time.Second, nil)
	assert.False(t, e.IsLeader())
}

func TestElectorStepDownNoopWhenNotLeading(t *testing.T) {
	e := NewElector(nil, "", time.Second, nil)

	called := false
	e.stepDown(context.Background(), LeadershipCallbacks{
		OnReleaseLeadership: func(ctx context.Context) { called = true },
	})

	assert.False(t, called, "OnReleaseLeadership must not fire when the replica was never leading")
	assert.False(t, e.IsLeader())
}
