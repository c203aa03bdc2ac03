package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Mic wraps a PortAudio capture stream as a pipeline Source.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16
}

// NewMic opens a PortAudio capture stream with the given sample rate and frame
// size (in samples).
func NewMic(sampleRate, frameSize int) (*Mic, error) {
	buf := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	return &Mic{stream: stream, buf: buf}, nil
}

// OpenMic initializes PortAudio and opens a mic, walking the candidate sample
// rates until one the device accepts. Returns the mic and the accepted rate.
func OpenMic(candidates []int, frameSize int) (*Mic, int, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, 0, fmt.Errorf("initialize portaudio: %w", err)
	}

	var lastErr error
	for _, rate := range candidates {
		mic, err := NewMic(rate, frameSize)
		if err != nil {
			lastErr = err
			continue
		}
		return mic, rate, nil
	}

	_ = portaudio.Terminate()
	return nil, 0, fmt.Errorf("no usable capture device: %w", lastErr)
}

func (m *Mic) Start() error { return m.stream.Start() }

func (m *Mic) Stop() error {
	err := m.stream.Stop()
	_ = m.stream.Close()
	_ = portaudio.Terminate()
	return err
}

// ReadFrame blocks until the stream delivers one frame, then copies it into
// buf. buf must match the frame size the mic was opened with.
func (m *Mic) ReadFrame(buf []int16) error {
	if err := m.stream.Read(); err != nil {
		return err
	}
	copy(buf, m.buf)
	return nil
}
