package dogmaapp_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-dogma/dogma/internal/dogmaapp"
)

func TestLauncherRunsAllServicesAndStopsOnCancel(t *testing.T) {
	l := dogmaapp.New(nil, 0, time.Second)

	var started, stopped int32

	l.AddFunc("a", func(ctx context.Context) error {
		atomic.AddInt32(&started, 1)
		<-ctx.Done()
		atomic.AddInt32(&stopped, 1)

		return nil
	})
	l.AddFunc("b", func(ctx context.Context) error {
		atomic.AddInt32(&started, 1)
		<-ctx.Done()
		atomic.AddInt32(&stopped, 1)

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("launcher did not stop in time")
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(&started))
	assert.EqualValues(t, 2, atomic.LoadInt32(&stopped))
}

func TestLauncherStopTimeoutDoesNotBlockForever(t *testing.T) {
	l := dogmaapp.New(nil, 0, 10*time.Millisecond)

	l.AddFunc("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Hour) // never actually returns within the stop timeout

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("launcher.Run should have returned after StopTimeout elapsed")
	}
}

func TestBannerIsCenteredAndPadded(t *testing.T) {
	b := dogmaapp.Banner("dogma")

	assert.Len(t, b, 72)
	assert.True(t, strings.Contains(b, " dogma "))
	assert.True(t, strings.HasPrefix(b, "="))
	assert.True(t, strings.HasSuffix(b, "="))
}
