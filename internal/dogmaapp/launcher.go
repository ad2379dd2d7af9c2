// Package dogmaapp runs the store's long-lived background services (the
// replication replay loop, the purge scheduler, leader election, ...)
// under one context and tears them down within a configured graceful
// shutdown window: after a quiet period it waits up to a stop timeout for
// them to return, then logs a warning and returns, leaving any stragglers
// running.
package dogmaapp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-dogma/dogma/internal/mlog"
)

// Service is a named background process managed by a Launcher.
type Service interface {
	// Run blocks until ctx is cancelled or the service exits on its own
	// (e.g. a fatal error). A non-nil error is logged, not fatal to the
	// other services.
	Run(ctx context.Context) error
}

// ServiceFunc adapts a plain function to Service.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Run(ctx context.Context) error { return f(ctx) }

// Launcher owns a set of named Services and runs them concurrently.
type Launcher struct {
	Logger       mlog.Logger
	QuietPeriod  time.Duration
	StopTimeout  time.Duration

	mu       sync.Mutex
	services map[string]Service
}

// New builds a Launcher. quietPeriod/stopTimeout mirror
// gracefulShutdownTimeout.quietPeriodMillis/timeoutMillis from the
// configuration surface.
func New(logger mlog.Logger, quietPeriod, stopTimeout time.Duration) *Launcher {
	if logger == nil {
		logger = mlog.Discard
	}

	return &Launcher{
		Logger:      logger,
		QuietPeriod: quietPeriod,
		StopTimeout: stopTimeout,
		services:    make(map[string]Service),
	}
}

// Add registers a service under name. Must be called before Run.
func (l *Launcher) Add(name string, s Service) *Launcher {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.services[name] = s

	return l
}

// AddFunc is a convenience wrapper around Add for ServiceFunc values.
func (l *Launcher) AddFunc(name string, f func(ctx context.Context) error) *Launcher {
	return l.Add(name, ServiceFunc(f))
}

// Run starts every registered service and blocks until ctx is cancelled,
// then waits up to QuietPeriod+StopTimeout for all of them to return.
func (l *Launcher) Run(ctx context.Context) {
	l.mu.Lock()
	names := make([]string, 0, len(l.services))
	for name := range l.services {
		names = append(names, name)
	}
	l.mu.Unlock()

	l.Logger.Infof("launcher: starting %d service(s): %s", len(names), strings.Join(names, ", "))

	var wg sync.WaitGroup

	wg.Add(len(names))

	for _, name := range names {
		name := name

		svc := l.services[name]

		go func() {
			defer wg.Done()

			if err := svc.Run(ctx); err != nil {
				l.Logger.Errorf("launcher: service %q exited with error: %v", name, err)
			} else {
				l.Logger.Infof("launcher: service %q finished", name)
			}
		}()
	}

	<-ctx.Done()
	l.Logger.Infof("launcher: shutdown signalled, quiet period %s", l.QuietPeriod)

	time.Sleep(l.QuietPeriod)

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.Logger.Info("launcher: all services stopped cleanly")
	case <-time.After(l.StopTimeout):
		l.Logger.Warn("launcher: stop timeout elapsed with services still running")
	}
}

// Banner renders a titled separator line, used by cmd/dogma on startup.
func Banner(title string) string {
	const width = 72

	title = fmt.Sprintf(" %s ", title)
	left := (width - len(title)) / 2
	right := width - len(title) - left

	return strings.Repeat("=", left) + title + strings.Repeat("=", right)
}
