package player

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultFrameWait bounds how long Get waits for a frame still being decoded
const DefaultFrameWait = 500 * time.Millisecond

// FrameStore holds decoded frames in index order. The decoder appends from
// its own goroutine while the scheduler reads; frames are never replaced.
type FrameStore struct {
	mu     sync.RWMutex
	frames []*RawFrame
	done   bool
	err    error

	// closed and replaced whenever frames or done change
	notify chan struct{}

	wait time.Duration
}

// NewFrameStore creates an empty store. wait bounds Get for frames that are
// not decoded yet; zero selects DefaultFrameWait.
func NewFrameStore(wait time.Duration) *FrameStore {
	if wait <= 0 {
		wait = DefaultFrameWait
	}
	return &FrameStore{
		notify: make(chan struct{}),
		wait:   wait,
	}
}

// NewFrameStoreFrom creates a finished store holding frames
func NewFrameStoreFrom(frames []*RawFrame) *FrameStore {
	s := NewFrameStore(0)
	for _, f := range frames {
		s.Append(f)
	}
	s.Finish(nil)
	return s
}

func (s *FrameStore) broadcast() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Append stores f as the next frame and returns its index. The store takes
// ownership of f.
func (s *FrameStore) Append(f *RawFrame) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return -1
	}
	f.Index = len(s.frames)
	s.frames = append(s.frames, f)
	s.broadcast()
	return f.Index
}

// Finish marks the store complete. err records why decoding stopped early.
func (s *FrameStore) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.broadcast()
}

// Err returns the error the decoder finished with, if any
func (s *FrameStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Len returns the number of frames decoded so far
func (s *FrameStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Complete reports whether no more frames will be appended
func (s *FrameStore) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Get returns frame i. While the store is filling it waits at most the
// configured bound and then fails with ErrFrameNotReady.
func (s *FrameStore) Get(ctx context.Context, i int) (*RawFrame, error) {
	if i < 0 {
		return nil, fmt.Errorf("%w: index %d", ErrFrameOutOfRange, i)
	}

	var timeout <-chan time.Time
	for {
		s.mu.RLock()
		n, done, ch := len(s.frames), s.done, s.notify
		var f *RawFrame
		if i < n {
			f = s.frames[i]
		}
		s.mu.RUnlock()

		if f != nil {
			return f, nil
		}
		if done {
			return nil, fmt.Errorf("%w: index %d of %d", ErrFrameOutOfRange, i, n)
		}

		if timeout == nil {
			t := time.NewTimer(s.wait)
			defer t.Stop()
			timeout = t.C
		}
		select {
		case <-ch:
		case <-timeout:
			return nil, fmt.Errorf("%w: index %d", ErrFrameNotReady, i)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitFor blocks until at least n frames are stored or the store is complete
func (s *FrameStore) WaitFor(ctx context.Context, n int) error {
	for {
		s.mu.RLock()
		ready := len(s.frames) >= n || s.done
		ch := s.notify
		s.mu.RUnlock()

		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
