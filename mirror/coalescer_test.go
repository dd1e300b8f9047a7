package mirror

import (
	"context"
	"flag"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

type triggerRecorder struct {
	stateLock sync.Mutex
	artifacts []string
	times     []time.Time
}

func (self *triggerRecorder) trigger(artifactId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.artifacts = append(self.artifacts, artifactId)
	self.times = append(self.times, time.Now())
}

func (self *triggerRecorder) snapshot() ([]string, []time.Time) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return append([]string{}, self.artifacts...), append([]time.Time{}, self.times...)
}

func TestActiveArtifactFiresImmediately(t *testing.T) {
	ctx := context.Background()
	recorder := &triggerRecorder{}
	coalescer := NewChangeCoalescer(ctx, recorder.trigger, &ChangeCoalescerSettings{
		QuietPeriod: time.Hour,
	})
	defer coalescer.Close()

	coalescer.NotifyArtifactActive("a.txt")
	artifacts, _ := recorder.snapshot()
	assert.Equal(t, artifacts, []string{"a.txt"})
	assert.Equal(t, coalescer.ActiveArtifactId(), "a.txt")

	coalescer.NotifyArtifactActive("b.txt")
	artifacts, _ = recorder.snapshot()
	assert.Equal(t, artifacts, []string{"a.txt", "b.txt"})
}

func TestCoalesceBurst(t *testing.T) {
	quietPeriod := 150 * time.Millisecond

	ctx := context.Background()
	recorder := &triggerRecorder{}
	coalescer := NewChangeCoalescer(ctx, recorder.trigger, &ChangeCoalescerSettings{
		QuietPeriod: quietPeriod,
	})
	defer coalescer.Close()

	coalescer.NotifyArtifactActive("a.txt")

	// a burst of changes spaced well below the quiet period
	k := 5
	var lastChange time.Time
	for i := 0; i < k; i += 1 {
		coalescer.NotifyChanged("a.txt")
		lastChange = time.Now()
		time.Sleep(30 * time.Millisecond)
	}

	time.Sleep(3 * quietPeriod)

	artifacts, times := recorder.snapshot()
	// one trigger for the active switch, exactly one for the burst
	assert.Equal(t, len(artifacts), 2)
	assert.Equal(t, artifacts[1], "a.txt")

	elapsed := times[1].Sub(lastChange)
	assert.Equal(t, quietPeriod-30*time.Millisecond <= elapsed, true)
	assert.Equal(t, elapsed <= quietPeriod+500*time.Millisecond, true)
}

func TestNonActiveArtifactIgnored(t *testing.T) {
	quietPeriod := 50 * time.Millisecond

	ctx := context.Background()
	recorder := &triggerRecorder{}
	coalescer := NewChangeCoalescer(ctx, recorder.trigger, &ChangeCoalescerSettings{
		QuietPeriod: quietPeriod,
	})
	defer coalescer.Close()

	coalescer.NotifyArtifactActive("a.txt")
	coalescer.NotifyChanged("b.txt")
	coalescer.NotifyChanged("other.txt")

	time.Sleep(4 * quietPeriod)

	artifacts, _ := recorder.snapshot()
	assert.Equal(t, artifacts, []string{"a.txt"})
}

func TestChangeBeforeActiveIgnored(t *testing.T) {
	ctx := context.Background()
	recorder := &triggerRecorder{}
	coalescer := NewChangeCoalescer(ctx, recorder.trigger, &ChangeCoalescerSettings{
		QuietPeriod: 20 * time.Millisecond,
	})
	defer coalescer.Close()

	coalescer.NotifyChanged("a.txt")
	time.Sleep(100 * time.Millisecond)

	artifacts, _ := recorder.snapshot()
	assert.Equal(t, len(artifacts), 0)
}

func TestSwitchCancelsPendingTrigger(t *testing.T) {
	quietPeriod := 80 * time.Millisecond

	ctx := context.Background()
	recorder := &triggerRecorder{}
	coalescer := NewChangeCoalescer(ctx, recorder.trigger, &ChangeCoalescerSettings{
		QuietPeriod: quietPeriod,
	})
	defer coalescer.Close()

	coalescer.NotifyArtifactActive("a.txt")
	coalescer.NotifyChanged("a.txt")
	// switch before the quiet period elapses. the pending trigger for
	// a.txt must not fire.
	coalescer.NotifyArtifactActive("b.txt")

	time.Sleep(4 * quietPeriod)

	artifacts, _ := recorder.snapshot()
	assert.Equal(t, artifacts, []string{"a.txt", "b.txt"})
}

func TestCloseCancelsTimer(t *testing.T) {
	quietPeriod := 50 * time.Millisecond

	ctx := context.Background()
	recorder := &triggerRecorder{}
	coalescer := NewChangeCoalescer(ctx, recorder.trigger, &ChangeCoalescerSettings{
		QuietPeriod: quietPeriod,
	})

	coalescer.NotifyArtifactActive("a.txt")
	coalescer.NotifyChanged("a.txt")
	coalescer.Close()

	time.Sleep(4 * quietPeriod)

	artifacts, _ := recorder.snapshot()
	assert.Equal(t, artifacts, []string{"a.txt"})

	// no callback after close
	coalescer.NotifyArtifactActive("b.txt")
	coalescer.NotifyChanged("b.txt")
	time.Sleep(4 * quietPeriod)

	artifacts, _ = recorder.snapshot()
	assert.Equal(t, artifacts, []string{"a.txt"})
}
