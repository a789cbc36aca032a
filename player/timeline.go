package player

import "time"

// Timeline maps frame indices to playback time. Frame i is presented at
// i*Step, which is also the audio position it corresponds to.
type Timeline struct {
	Step time.Duration
}

// Timestamp returns the presentation time of frame i
func (t Timeline) Timestamp(i int) time.Duration {
	return time.Duration(i) * t.Step
}

// IndexAt returns the frame presented at ts
func (t Timeline) IndexAt(ts time.Duration) int {
	if t.Step <= 0 || ts <= 0 {
		return 0
	}
	return int(ts / t.Step)
}

// CadenceSampler resamples a stream of pictures with arbitrary presentation
// timestamps onto a fixed timeline. Slot k receives the latest picture whose
// timestamp is at or before k*step, so pictures are dropped or repeated as
// the source rate requires.
type CadenceSampler[T any] struct {
	step time.Duration
	slot int

	last        T
	have        bool
	lastEmitted bool
}

// NewCadenceSampler creates a sampler emitting one picture per step
func NewCadenceSampler[T any](step time.Duration) *CadenceSampler[T] {
	return &CadenceSampler[T]{step: step}
}

// Push offers a picture presented at pts (relative to the stream start) and
// emits every slot that ends before it.
func (s *CadenceSampler[T]) Push(pts time.Duration, v T, emit func(T)) {
	if s.have {
		for time.Duration(s.slot)*s.step < pts {
			emit(s.last)
			s.lastEmitted = true
			s.slot++
		}
	}
	s.last = v
	s.have = true
	s.lastEmitted = false
}

// Flush emits the remaining slots up to end. The final picture is emitted at
// least once.
func (s *CadenceSampler[T]) Flush(end time.Duration, emit func(T)) {
	if !s.have {
		return
	}
	for time.Duration(s.slot)*s.step < end {
		emit(s.last)
		s.lastEmitted = true
		s.slot++
	}
	if !s.lastEmitted {
		emit(s.last)
		s.lastEmitted = true
		s.slot++
	}
	s.have = false
}

// Slots returns the number of slots emitted so far
func (s *CadenceSampler[T]) Slots() int {
	return s.slot
}
