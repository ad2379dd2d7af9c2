package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/command"
	"github.com/go-dogma/dogma/internal/config"
	"github.com/go-dogma/dogma/internal/replication/redislock"
)

func TestNewDoesNotTouchExternalServices(t *testing.T) {
	s := New(&config.Config{}, nil)

	require.NotNil(t, s)
	assert.NotNil(t, s.Logger, "New must default a nil logger rather than leave it nil")
	assert.Nil(t, s.Projects)
	assert.Nil(t, s.store)
}

func TestLeadershipCheckerNilWhenNotReplicating(t *testing.T) {
	s := New(&config.Config{}, nil)
	assert.Nil(t, s.leadershipChecker())
}

func TestLeadershipCheckerWrapsElector(t *testing.T) {
	s := New(&config.Config{}, nil)
	s.elector = redislock.NewElector(nil, "", 0, nil)

	checker := s.leadershipChecker()
	require.NotNil(t, checker)
	assert.False(t, checker.IsLeader())
}

func TestLeaderPublisherRefusesWhenNotLeader(t *testing.T) {
	p := &leaderPublisher{elector: redislock.NewElector(nil, "", 0, nil)}

	err := p.Publish(context.Background(), command.Command{ID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not the leader")
}

func TestMarshalCommandRoundTrips(t *testing.T) {
	raw, err := marshalCommand(command.Command{ID: "c1", Project: "proj", Repository: "repo"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"c1"`)
	assert.Contains(t, string(raw), `"proj"`)
}
