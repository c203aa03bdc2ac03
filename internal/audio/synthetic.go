package audio

import (
	"io"
	"sync"
)

// SyntheticSource replays queued frames, used by tests and file-driven runs.
type SyntheticSource struct {
	mu      sync.Mutex
	frames  [][]int16
	started bool
	err     error
	wait    chan struct{}
}

// NewSyntheticSource creates an empty synthetic source.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{wait: make(chan struct{}, 16)}
}

// Push queues one frame for delivery.
func (s *SyntheticSource) Push(frame []int16) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	select {
	case s.wait <- struct{}{}:
	default:
	}
}

// Fail makes the next ReadFrame return err, simulating device loss.
func (s *SyntheticSource) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	select {
	case s.wait <- struct{}{}:
	default:
	}
}

func (s *SyntheticSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.started = true
	return nil
}

func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.err = io.EOF
	select {
	case s.wait <- struct{}{}:
	default:
	}
	return nil
}

func (s *SyntheticSource) ReadFrame(buf []int16) error {
	for {
		s.mu.Lock()
		if len(s.frames) > 0 {
			copy(buf, s.frames[0])
			s.frames = s.frames[1:]
			s.mu.Unlock()
			return nil
		}
		err := s.err
		s.mu.Unlock()

		if err != nil {
			return err
		}
		<-s.wait
	}
}
