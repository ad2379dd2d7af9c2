// Package project implements the C2 Project Manager of spec.md §4.2: the
// lifecycle (create/remove/unremove/purge/list) of Projects and, through
// Repositories, of the Repository Store engines beneath them.
package project

import (
	"context"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/go-dogma/dogma/internal/dogmaerr"
	"github.com/go-dogma/dogma/internal/mlog"
	"github.com/go-dogma/dogma/internal/store/postgres"
)

// ReservedProject is created automatically at first start and is never
// purged, per spec.md §4.2.
const ReservedProject = "dogma"

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateName reports whether name satisfies the project/repository
// naming invariant of spec.md §4.2.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return dogmaerr.New(dogmaerr.KindChangeConflict, "name %q must match [a-zA-Z0-9_-]+", name)
	}

	return nil
}

// Project is an in-memory view of a project row plus its open repository
// engines. The Project Manager exclusively owns this set, per spec.md
// §3's ownership invariant.
type Project struct {
	Name      string
	CreatedAt time.Time
	RemovedAt *time.Time

	mu           sync.RWMutex
	repos        map[string]*postgres.RepositoryEngine
	removedRepos map[string]time.Time
}

// IsRepositoryRemoved reports whether repoName is tombstoned within p.
func (p *Project) IsRepositoryRemoved(repoName string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.removedRepos[repoName]

	return t, ok
}

// Manager owns the full set of Projects, backed by the postgres store.
type Manager struct {
	store       *postgres.Store
	cacheSize   int
	purgeMinAge time.Duration
	Logger      mlog.Logger

	mu       sync.RWMutex
	projects map[string]*Project
}

// Config configures a Manager.
type Config struct {
	CacheSize        int           // per-repository content cache size
	PurgeGracePeriod time.Duration // spec.md §4.2's "age threshold from removal-time"
	Logger           mlog.Logger

	// NumRepositoryWorkers bounds how many RepositoryEngines New opens
	// concurrently at startup (spec.md §5's numRepositoryWorkers). <= 1
	// opens them one at a time.
	NumRepositoryWorkers int
}

// New constructs a Manager and loads every project/repository row from
// the store, opening a RepositoryEngine per live-or-removed repository.
func New(ctx context.Context, store *postgres.Store, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = mlog.Discard
	}

	m := &Manager{
		store:       store,
		cacheSize:   cfg.CacheSize,
		purgeMinAge: cfg.PurgeGracePeriod,
		Logger:      cfg.Logger,
		projects:    make(map[string]*Project),
	}

	rows, err := store.ListProjects(ctx, true)
	if err != nil {
		return nil, err
	}

	var tasks []openTask

	for _, row := range rows {
		if row.PurgedAt != nil {
			continue
		}

		p := &Project{Name: row.Name, CreatedAt: row.CreatedAt, RemovedAt: row.RemovedAt, repos: make(map[string]*postgres.RepositoryEngine), removedRepos: make(map[string]time.Time)}

		repoRows, err := store.ListRepositories(ctx, row.Name, true)
		if err != nil {
			return nil, err
		}

		for _, rr := range repoRows {
			if rr.PurgedAt != nil {
				continue
			}

			if rr.RemovedAt != nil {
				p.removedRepos[rr.Name] = *rr.RemovedAt
			}

			tasks = append(tasks, openTask{p: p, rr: rr})
		}

		m.projects[row.Name] = p
	}

	open := func(ctx context.Context, projectName, repoName string) (*postgres.RepositoryEngine, error) {
		return postgres.OpenRepositoryEngine(ctx, store, projectName, repoName, m.cacheSize)
	}

	if err := openEngines(ctx, tasks, cfg.NumRepositoryWorkers, open); err != nil {
		return nil, err
	}

	if _, ok := m.projects[ReservedProject]; !ok {
		if err := m.bootstrapReserved(ctx); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// openTask pairs a repository row with the in-memory Project it belongs
// to, so openEngines can open RepositoryEngines for every project's rows
// in one flat, boundedly-concurrent pass.
type openTask struct {
	p  *Project
	rr postgres.RepositoryRow
}

// openEngines opens a RepositoryEngine for each task, bounded to
// numWorkers concurrent opens (spec.md §5's numRepositoryWorkers). A
// numWorkers <= 0 opens tasks one at a time. The first error cancels the
// remaining opens and is returned.
func openEngines(ctx context.Context, tasks []openTask, numWorkers int, open func(ctx context.Context, projectName, repoName string) (*postgres.RepositoryEngine, error)) error {
	if len(tasks) == 0 {
		return nil
	}

	if numWorkers <= 0 {
		numWorkers = 1
	}

	sem := semaphore.NewWeighted(int64(numWorkers))
	g, gctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		task := task

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			engine, err := open(gctx, task.p.Name, task.rr.Name)
			if err != nil {
				return err
			}

			task.p.mu.Lock()
			task.p.repos[task.rr.Name] = engine
			task.p.mu.Unlock()

			return nil
		})
	}

	return g.Wait()
}

func (m *Manager) bootstrapReserved(ctx context.Context) error {
	m.Logger.Infof("bootstrapping reserved project %q", ReservedProject)

	if _, err := m.Create(ctx, ReservedProject, "system", time.Now()); err != nil {
		return err
	}

	return nil
}

// Create adds a new live project.
func (m *Manager) Create(ctx context.Context, name, author string, now time.Time) (*Project, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.projects[name]; exists {
		return nil, dogmaerr.ProjectExists(name)
	}

	if err := m.store.CreateProject(ctx, name, now); err != nil {
		return nil, err
	}

	p := &Project{Name: name, CreatedAt: now, repos: make(map[string]*postgres.RepositoryEngine), removedRepos: make(map[string]time.Time)}
	m.projects[name] = p

	return p, nil
}

// Get returns a live (non-removed) project.
func (m *Manager) Get(name string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[name]
	if !ok || p.RemovedAt != nil {
		return nil, dogmaerr.ProjectNotFound(name)
	}

	return p, nil
}

// Remove tombstones a live project.
func (m *Manager) Remove(ctx context.Context, name string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[name]
	if !ok || p.RemovedAt != nil {
		return dogmaerr.ProjectNotFound(name)
	}

	if name == ReservedProject {
		return dogmaerr.New(dogmaerr.KindChangeConflict, "project %q is reserved and cannot be removed", name)
	}

	if err := m.store.SetProjectRemovedAt(ctx, name, &now); err != nil {
		return err
	}

	p.RemovedAt = &now

	return nil
}

// Unremove restores a tombstoned (but not yet purged) project to live.
func (m *Manager) Unremove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[name]
	if !ok {
		return dogmaerr.ProjectNotFound(name)
	}

	if p.RemovedAt == nil {
		return nil
	}

	if err := m.store.SetProjectRemovedAt(ctx, name, nil); err != nil {
		return err
	}

	p.RemovedAt = nil

	return nil
}

// List returns every live project.
func (m *Manager) List() []*Project {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Project

	for _, p := range m.projects {
		if p.RemovedAt == nil {
			out = append(out, p)
		}
	}

	return out
}

// ListRemoved returns a name → removal-time map of tombstoned projects.
func (m *Manager) ListRemoved() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]time.Time)

	for name, p := range m.projects {
		if p.RemovedAt != nil {
			out[name] = *p.RemovedAt
		}
	}

	return out
}

// PurgeMarked sweeps every removed-and-aged project, physically deleting
// it (and its repositories). This is the C2 half of the C8 Purge
// Scheduler's sweep; it never purges ReservedProject.
func (m *Manager) PurgeMarked(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged []string

	for name, p := range m.projects {
		if err := m.purgeMarkedRepositories(ctx, name, p, now); err != nil {
			return purged, err
		}

		if p.RemovedAt == nil || name == ReservedProject {
			continue
		}

		if now.Sub(*p.RemovedAt) < m.purgeMinAge {
			continue
		}

		p.mu.Lock()
		for repoName, engine := range p.repos {
			engine.Close(nil)

			if err := m.store.DeleteRepository(ctx, name, repoName); err != nil {
				p.mu.Unlock()
				return purged, err
			}
		}
		p.repos = nil
		p.mu.Unlock()

		if err := m.store.DeleteProject(ctx, name); err != nil {
			return purged, err
		}

		delete(m.projects, name)
		purged = append(purged, name)
	}

	return purged, nil
}

// purgeMarkedRepositories deletes individually-tombstoned repositories
// within a still-live project once they've aged past purgeMinAge.
func (m *Manager) purgeMarkedRepositories(ctx context.Context, projectName string, p *Project, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for repoName, removedAt := range p.removedRepos {
		if now.Sub(removedAt) < m.purgeMinAge {
			continue
		}

		if engine, ok := p.repos[repoName]; ok {
			engine.Close(nil)
			delete(p.repos, repoName)
		}

		if err := m.store.DeleteRepository(ctx, projectName, repoName); err != nil {
			return err
		}

		delete(p.removedRepos, repoName)
	}

	return nil
}

// CreateRepository creates a new repository within project name.
func (m *Manager) CreateRepository(ctx context.Context, projectName, repoName, author string, now time.Time) (*postgres.RepositoryEngine, error) {
	if err := ValidateName(repoName); err != nil {
		return nil, err
	}

	p, err := m.Get(projectName)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.repos[repoName]; exists {
		return nil, dogmaerr.RepositoryExists(projectName, repoName)
	}

	if err := m.store.CreateRepository(ctx, projectName, repoName, now); err != nil {
		return nil, err
	}

	engine, err := postgres.OpenRepositoryEngine(ctx, m.store, projectName, repoName, m.cacheSize)
	if err != nil {
		return nil, err
	}

	p.repos[repoName] = engine

	return engine, nil
}

// GetRepository returns a live repository's engine.
func (m *Manager) GetRepository(projectName, repoName string) (*postgres.RepositoryEngine, error) {
	p, err := m.Get(projectName)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	engine, ok := p.repos[repoName]
	if !ok {
		return nil, dogmaerr.RepositoryNotFound(projectName, repoName)
	}

	if _, removed := p.removedRepos[repoName]; removed {
		return nil, dogmaerr.RepositoryNotFound(projectName, repoName)
	}

	return engine, nil
}

// RemoveRepository tombstones a repository, rejecting further writes and
// watches against it.
func (m *Manager) RemoveRepository(ctx context.Context, projectName, repoName string, now time.Time) error {
	p, err := m.Get(projectName)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.repos[repoName]; !ok {
		return dogmaerr.RepositoryNotFound(projectName, repoName)
	}

	if err := m.store.SetRepositoryRemovedAt(ctx, projectName, repoName, &now); err != nil {
		return err
	}

	p.removedRepos[repoName] = now

	return nil
}

// UnremoveRepository restores a tombstoned repository to live.
func (m *Manager) UnremoveRepository(ctx context.Context, projectName, repoName string) error {
	p, err := m.Get(projectName)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.repos[repoName]; !ok {
		return dogmaerr.RepositoryNotFound(projectName, repoName)
	}

	if err := m.store.SetRepositoryRemovedAt(ctx, projectName, repoName, nil); err != nil {
		return err
	}

	delete(p.removedRepos, repoName)

	return nil
}

// ListRepositories returns every live repository engine of a project.
func (m *Manager) ListRepositories(projectName string) ([]*postgres.RepositoryEngine, error) {
	p, err := m.Get(projectName)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*postgres.RepositoryEngine, 0, len(p.repos))
	for name, engine := range p.repos {
		if _, removed := p.removedRepos[name]; removed {
			continue
		}

		out = append(out, engine)
	}

	return out, nil
}
