// Package audio captures microphone input and conditions it for streaming
// transcription: noise gating, automatic gain, and per-frame quality scoring.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/fault"
)

const maxSample = 32767

// Snapshot holds the quality metrics recomputed on every processed frame.
// Each frame's snapshot supersedes the previous one.
type Snapshot struct {
	AvgAmplitude     float64 `json:"avg_amplitude"`
	PeakAmplitude    int     `json:"peak_amplitude"`
	ClippingRatio    float64 `json:"clipping_ratio"`
	ClippingDetected bool    `json:"clipping_detected"`
	Score            float64 `json:"score"`
}

// Frame is one fixed-size block of processed mono PCM16 samples.
type Frame struct {
	Samples []int16
	Quality Snapshot
}

// Source produces raw capture frames. The portaudio Mic implements it in
// production; tests feed a synthetic source.
type Source interface {
	Start() error
	Stop() error
	// ReadFrame blocks until buf is filled with the next frame of samples.
	ReadFrame(buf []int16) error
}

// Pipeline reads from a Source, conditions each frame, and hands frames to a
// bounded output channel. The read loop never blocks on a slow consumer:
// frames are dropped and counted when the channel is full.
type Pipeline struct {
	cfg    config.Audio
	source Source

	out     chan Frame
	dropped atomic.Int64

	mu        sync.Mutex
	running   bool
	lastScore float64
	hasScore  bool

	onQuality func(Snapshot)
	onError   func(error)
	stopOnce  sync.Once
	stopped   chan struct{}
}

// NewPipeline creates a pipeline over source. The output buffer size comes
// from cfg.SendBufferFrames.
func NewPipeline(cfg config.Audio, source Source) *Pipeline {
	buffer := cfg.SendBufferFrames
	if buffer <= 0 {
		buffer = 16
	}
	return &Pipeline{
		cfg:     cfg,
		source:  source,
		out:     make(chan Frame, buffer),
		stopped: make(chan struct{}),
	}
}

// OnQuality registers the quality-update callback. It fires only when the
// score moves by more than the configured delta, to avoid event storms.
func (p *Pipeline) OnQuality(fn func(Snapshot)) { p.onQuality = fn }

// OnError registers the callback for mid-stream capture failures.
func (p *Pipeline) OnError(fn func(error)) { p.onError = fn }

// Frames returns the processed frame channel. It is closed when the pipeline
// stops.
func (p *Pipeline) Frames() <-chan Frame { return p.out }

// Dropped returns the number of frames shed due to downstream saturation.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Start acquires the capture source and begins the read loop. A source
// acquisition failure is fatal and classified AUDIO_ERROR.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fault.Errorf(fault.AudioError, "pipeline already running")
	}
	p.running = true
	p.mu.Unlock()

	if err := p.source.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fault.Errorf(fault.AudioError, "start capture source: %w", err)
	}

	go p.loop(ctx)
	return nil
}

// Stop halts capture and closes the frame channel. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		_ = p.source.Stop()
	})
}

func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.out)

	frameSize := p.cfg.FrameSize
	if frameSize <= 0 {
		frameSize = 4096
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		default:
		}

		buf := make([]int16, frameSize)
		if err := p.source.ReadFrame(buf); err != nil {
			select {
			case <-p.stopped:
			case <-ctx.Done():
			default:
				// Device loss mid-stream is surfaced, never silently dropped.
				if p.onError != nil {
					p.onError(fault.Errorf(fault.AudioError, "read capture frame: %w", err))
				}
			}
			return
		}

		snapshot := p.process(buf)
		frame := Frame{Samples: buf, Quality: snapshot}

		select {
		case p.out <- frame:
		default:
			if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("audio frame dropped, downstream saturated", "total_dropped", n)
			}
		}

		p.maybeEmitQuality(snapshot)
	}
}

// process applies the noise gate and automatic gain in place, then scores the
// frame.
func (p *Pipeline) process(samples []int16) Snapshot {
	gate := p.cfg.NoiseGate
	for i, s := range samples {
		if abs(int(s)) < gate {
			samples[i] = 0
		}
	}

	peak := 0
	for _, s := range samples {
		if a := abs(int(s)); a > peak {
			peak = a
		}
	}

	target := p.cfg.TargetPeak
	if target > 0 && peak > 0 && peak < target {
		gain := float64(target) / float64(peak)
		for i, s := range samples {
			scaled := float64(s) * gain
			if scaled > maxSample {
				scaled = maxSample
			} else if scaled < -maxSample-1 {
				scaled = -maxSample - 1
			}
			samples[i] = int16(scaled)
		}
		peak = target
	}

	return score(samples, peak)
}

func (p *Pipeline) maybeEmitQuality(s Snapshot) {
	if p.onQuality == nil {
		return
	}

	p.mu.Lock()
	delta := p.cfg.QualityDelta
	if delta <= 0 {
		delta = 5
	}
	emit := !p.hasScore || s.Score > p.lastScore+delta || s.Score < p.lastScore-delta
	if emit {
		p.lastScore = s.Score
		p.hasScore = true
	}
	p.mu.Unlock()

	if emit {
		p.onQuality(s)
	}
}

// score derives quality metrics for a processed frame. The score is always
// within [0,100], penalizing clipping and low signal level.
func score(samples []int16, peak int) Snapshot {
	if len(samples) == 0 {
		return Snapshot{}
	}

	var sum float64
	clipped := 0
	for _, s := range samples {
		a := abs(int(s))
		sum += float64(a)
		if a >= maxSample {
			clipped++
		}
	}

	avg := sum / float64(len(samples))
	ratio := float64(clipped) / float64(len(samples))

	quality := 100.0
	// Clipping dominates the penalty: 1% clipped costs 40 points.
	quality -= ratio * 4000
	if avg < 1000 {
		quality -= (1000 - avg) / 1000 * 30
	}
	if quality < 0 {
		quality = 0
	} else if quality > 100 {
		quality = 100
	}

	return Snapshot{
		AvgAmplitude:     avg,
		PeakAmplitude:    peak,
		ClippingRatio:    ratio,
		ClippingDetected: ratio > 0.01,
		Score:            quality,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
