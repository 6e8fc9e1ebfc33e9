// Package util holds small concurrency helpers.
package util

import (
	"sync"
)

// DefaultFanOutBuffer is the per-listener buffer of a FanOutChan.
const DefaultFanOutBuffer = 64

// FanOutChan has one producer and any number of listeners; every item sent
// is copied to each listener. A listener whose buffer is full misses the
// item rather than stalling the others.
type FanOutChan[T any] struct {
	lock      sync.RWMutex
	listeners map[chan T]struct{}
	buffer    int
	closed    bool
	dropped   uint64
}

// NewFanOutChan returns a FanOutChan whose listeners buffer up to buffer
// items. buffer <= 0 means DefaultFanOutBuffer.
func NewFanOutChan[T any](buffer int) *FanOutChan[T] {
	if buffer <= 0 {
		buffer = DefaultFanOutBuffer
	}
	return &FanOutChan[T]{
		listeners: make(map[chan T]struct{}),
		buffer:    buffer,
	}
}

// Listen registers a new listener. The returned stop function unregisters
// and closes it. After Close the channel is returned already closed.
func (f *FanOutChan[T]) Listen() (<-chan T, func()) {
	ch := make(chan T, f.buffer)

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.listeners[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.lock.Lock()
			defer f.lock.Unlock()
			if _, ok := f.listeners[ch]; ok {
				delete(f.listeners, ch)
				close(ch)
			}
		})
	}
}

// Send copies item to every listener.
func (f *FanOutChan[T]) Send(item T) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.closed {
		return
	}
	for l := range f.listeners {
		select {
		case l <- item:
		default:
			f.dropped++
		}
	}
}

// Dropped returns how many per-listener copies were discarded because the
// listener was full.
func (f *FanOutChan[T]) Dropped() uint64 {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.dropped
}

// Close closes every listener. Later sends are ignored.
func (f *FanOutChan[T]) Close() {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for l := range f.listeners {
		close(l)
	}
	f.listeners = nil
}
