package mirror

import (
	"sync"
)

// deliveryQueue is a bounded fifo of encoded frames, owned by exactly one
// `DeliveryChannel`. On overflow the oldest entry is evicted and counted.
type deliveryQueue struct {
	stateLock     sync.Mutex
	frames        [][]byte
	capacity      int
	evictionCount int64
}

func newDeliveryQueue(capacity int) *deliveryQueue {
	return &deliveryQueue{
		frames:   [][]byte{},
		capacity: capacity,
	}
}

// add appends a frame, evicting the oldest frame if the queue is full.
// returns the evicted frame, or nil.
func (self *deliveryQueue) add(frame []byte) []byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	var evicted []byte
	if self.capacity <= len(self.frames) {
		evicted = self.frames[0]
		self.frames = self.frames[1:]
		self.evictionCount += 1
	}
	self.frames = append(self.frames, frame)
	return evicted
}

// addFirst puts a frame back at the front, used when a transmit fails
// mid-flush so the frame is retried on the next connect.
func (self *deliveryQueue) addFirst(frame []byte) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.capacity <= len(self.frames) {
		// full. the returned frame would be the one being added,
		// so count it as evicted and drop it.
		self.evictionCount += 1
		return
	}
	self.frames = append([][]byte{frame}, self.frames...)
}

func (self *deliveryQueue) removeFirst() []byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.frames) == 0 {
		return nil
	}
	frame := self.frames[0]
	self.frames = self.frames[1:]
	return frame
}

func (self *deliveryQueue) size() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.frames)
}

// clear discards all queued frames and returns how many were discarded.
func (self *deliveryQueue) clear() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	n := len(self.frames)
	self.frames = [][]byte{}
	return n
}

func (self *deliveryQueue) evictions() int64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.evictionCount
}
