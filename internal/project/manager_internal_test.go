package project

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/store/postgres"
)

func newOpenTasks(n int) ([]openTask, []*Project) {
	projects := make([]*Project, n)
	tasks := make([]openTask, n)

	for i := 0; i < n; i++ {
		p := &Project{Name: "p", repos: make(map[string]*postgres.RepositoryEngine), removedRepos: make(map[string]time.Time)}
		projects[i] = p
		tasks[i] = openTask{p: p, rr: postgres.RepositoryRow{Name: "r"}}
	}

	return tasks, projects
}

func TestOpenEnginesOpensEveryTask(t *testing.T) {
	tasks, projects := newOpenTasks(5)

	var opened int64

	open := func(ctx context.Context, projectName, repoName string) (*postgres.RepositoryEngine, error) {
		atomic.AddInt64(&opened, 1)
		return &postgres.RepositoryEngine{Project: projectName, Name: repoName}, nil
	}

	require.NoError(t, openEngines(context.Background(), tasks, 2, open))
	assert.EqualValues(t, 5, opened)

	for _, p := range projects {
		assert.Contains(t, p.repos, "r")
	}
}

func TestOpenEnginesBoundsConcurrency(t *testing.T) {
	tasks, _ := newOpenTasks(8)

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)

	open := func(ctx context.Context, projectName, repoName string) (*postgres.RepositoryEngine, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		return &postgres.RepositoryEngine{}, nil
	}

	require.NoError(t, openEngines(context.Background(), tasks, 3, open))
	assert.LessOrEqual(t, peak, 3)
}

func TestOpenEnginesPropagatesFirstError(t *testing.T) {
	tasks, _ := newOpenTasks(4)

	boom := assertError{"boom"}

	open := func(ctx context.Context, projectName, repoName string) (*postgres.RepositoryEngine, error) {
		return nil, boom
	}

	err := openEngines(context.Background(), tasks, 2, open)
	require.Error(t, err)
}

func TestOpenEnginesNoTasksIsNoop(t *testing.T) {
	open := func(ctx context.Context, projectName, repoName string) (*postgres.RepositoryEngine, error) {
		t.Fatal("open should not be called with no tasks")
		return nil, nil
	}

	require.NoError(t, openEngines(context.Background(), nil, 2, open))
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
