package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type ChangeCoalescerSettings struct {
	QuietPeriod time.Duration
}

func DefaultChangeCoalescerSettings() *ChangeCoalescerSettings {
	return &ChangeCoalescerSettings{
		QuietPeriod: 1000 * time.Millisecond,
	}
}

// TriggerFunction receives the artifact id of a coalesced change.
type TriggerFunction func(artifactId string)

// ChangeCoalescer collapses a burst of change notifications for the active
// artifact into one trigger, fired once no further change arrives within the
// quiet period. Switching the active artifact fires synchronously and is
// never debounced. Changes for a non-active artifact are ignored.
type ChangeCoalescer struct {
	ctx    context.Context
	cancel context.CancelFunc

	trigger  TriggerFunction
	settings *ChangeCoalescerSettings

	stateLock        sync.Mutex
	activeArtifactId string
	quietTimer       *time.Timer
	closed           bool
}

func NewChangeCoalescerWithDefaults(ctx context.Context, trigger TriggerFunction) *ChangeCoalescer {
	return NewChangeCoalescer(ctx, trigger, DefaultChangeCoalescerSettings())
}

func NewChangeCoalescer(ctx context.Context, trigger TriggerFunction, settings *ChangeCoalescerSettings) *ChangeCoalescer {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChangeCoalescer{
		ctx:      cancelCtx,
		cancel:   cancel,
		trigger:  trigger,
		settings: settings,
	}
}

func (self *ChangeCoalescer) NotifyArtifactActive(artifactId string) {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.activeArtifactId = artifactId
	if self.quietTimer != nil {
		self.quietTimer.Stop()
		self.quietTimer = nil
	}
	self.stateLock.Unlock()

	glog.V(2).Infof("[cc]active %s\n", artifactId)
	self.trigger(artifactId)
}

func (self *ChangeCoalescer) NotifyChanged(artifactId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed || artifactId != self.activeArtifactId {
		return
	}
	if self.quietTimer != nil {
		self.quietTimer.Stop()
	}
	self.quietTimer = time.AfterFunc(self.settings.QuietPeriod, func() {
		self.quietElapsed(artifactId)
	})
}

func (self *ChangeCoalescer) quietElapsed(artifactId string) {
	self.stateLock.Lock()
	if self.closed || artifactId != self.activeArtifactId {
		self.stateLock.Unlock()
		return
	}
	self.quietTimer = nil
	self.stateLock.Unlock()

	select {
	case <-self.ctx.Done():
		return
	default:
	}

	glog.V(2).Infof("[cc]trigger %s\n", artifactId)
	self.trigger(artifactId)
}

func (self *ChangeCoalescer) ActiveArtifactId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.activeArtifactId
}

// Close cancels any outstanding quiet-period timer.
// No trigger fires after close.
func (self *ChangeCoalescer) Close() {
	self.cancel()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	if self.quietTimer != nil {
		self.quietTimer.Stop()
		self.quietTimer = nil
	}
}
