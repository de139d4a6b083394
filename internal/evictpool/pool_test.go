package evictpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsJob(t *testing.T) {
	p := New(1, nil)
	var ran atomic.Bool
	done := make(chan struct{})
	p.Submit(func() {
		ran.Store(true)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run in time")
	}
	p.Wait()
	if !ran.Load() {
		t.Fatal("job did not run")
	}
}

func TestPendingReflectsQueueDepth(t *testing.T) {
	p := New(1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	if got := p.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1 while job runs", got)
	}

	close(release)
	p.Wait()

	if got := p.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0 after Wait", got)
	}
}

func TestWorkersAreBounded(t *testing.T) {
	const workers = 2
	p := New(workers, nil)

	var mu sync.Mutex
	current, maxSeen := 0, 0
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < workers*3; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()

			<-release

			mu.Lock()
			current--
			mu.Unlock()
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > workers {
		t.Fatalf("observed %d concurrent jobs, want at most %d", maxSeen, workers)
	}
}

func TestNewClampsWorkersBelowOne(t *testing.T) {
	p := New(0, nil)
	var ran atomic.Bool
	p.Submit(func() { ran.Store(true) })
	p.Wait()
	if !ran.Load() {
		t.Fatal("job did not run with clamped worker count")
	}
}
