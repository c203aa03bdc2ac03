// Package stt owns the streaming connection to the transcription backend:
// handshake, frame forwarding, message dispatch, and reconnection with
// exponential backoff.
package stt

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/fault"
)

// State is the link's connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Streaming
	Reconnecting
)

func (s State) String() string {
	return [...]string{"disconnected", "connecting", "connected", "streaming", "reconnecting"}[s]
}

// Conn is the subset of a websocket connection the link uses. Satisfied by
// *websocket.Conn; tests substitute a fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, rawURL string, header http.Header) (Conn, error)

// Callbacks receive decoded inbound events. Nil callbacks are skipped.
type Callbacks struct {
	OnResult        func(Result)
	OnMetadata      func(Metadata)
	OnSpeechStarted func()
	OnUtteranceEnd  func(UtteranceEnd)
	OnError         func(error)
	OnClose         func()
}

// Link is a single streaming transcription connection. On unexpected close
// while a meeting is active it reconnects with doubling delay up to a ceiling,
// giving up after a fixed attempt limit.
type Link struct {
	cfg    config.Transcription
	apiKey string
	cb     Callbacks

	dial  dialFunc
	sleep func(ctx context.Context, d time.Duration) bool

	mu        sync.Mutex
	conn      Conn
	state     State
	attempts  int
	delay     time.Duration
	active    bool
	dropNoted bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLink creates a link. Connect must be called before Send.
func NewLink(cfg config.Transcription, apiKey string, cb Callbacks) *Link {
	l := &Link{
		cfg:    cfg,
		apiKey: apiKey,
		cb:     cb,
		state:  Disconnected,
	}
	l.dial = l.dialWebsocket
	l.sleep = sleepCtx
	l.delay = l.initialDelay()
	return l
}

func (l *Link) initialDelay() time.Duration {
	return config.Duration(l.cfg.ReconnectDelay, time.Second)
}

func (l *Link) delayCeiling() time.Duration {
	return config.Duration(l.cfg.ReconnectCeil, 30*time.Second)
}

func (l *Link) connectTimeout() time.Duration {
	return config.Duration(l.cfg.ConnectTimeout, 10*time.Second)
}

func (l *Link) reconnectLimit() int {
	if l.cfg.ReconnectLimit <= 0 {
		return 5
	}
	return l.cfg.ReconnectLimit
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// handshakeURL encodes the connection parameters as query parameters on the
// backend URL.
func (l *Link) handshakeURL() (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fault.Errorf(fault.ConnectionFailed, "parse transcription url: %w", err)
	}

	q := u.Query()
	q.Set("model", l.cfg.Model)
	q.Set("language", l.cfg.Language)
	if l.cfg.Encoding != "" {
		q.Set("encoding", l.cfg.Encoding)
		q.Set("sample_rate", strconv.Itoa(l.cfg.SampleRate))
		q.Set("channels", strconv.Itoa(l.cfg.Channels))
	}
	q.Set("diarize", strconv.FormatBool(l.cfg.Diarize))
	q.Set("punctuate", strconv.FormatBool(l.cfg.Punctuate))
	q.Set("smart_format", strconv.FormatBool(l.cfg.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(l.cfg.InterimResults))
	q.Set("endpointing", strconv.Itoa(l.cfg.EndpointingMS))
	q.Set("alternatives", strconv.Itoa(l.cfg.Alternatives))
	q.Set("sentiment", strconv.FormatBool(l.cfg.Sentiment))
	q.Set("summarize", strconv.FormatBool(l.cfg.Summarize))
	for _, kw := range l.cfg.Keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (l *Link) dialWebsocket(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: l.connectTimeout()}
	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect establishes the streaming connection. The attempt has its own
// timeout, distinct from reconnection backoff.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Disconnected {
		l.mu.Unlock()
		return fault.Errorf(fault.ConnectionFailed, "link already %s", l.state)
	}
	l.state = Connecting
	l.active = true
	l.attempts = 0
	l.delay = l.initialDelay()
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	conn, err := l.dialOnce()
	if err != nil {
		l.mu.Lock()
		l.state = Disconnected
		l.active = false
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.state = Connected
	l.mu.Unlock()

	go l.readLoop(conn)
	return nil
}

func (l *Link) dialOnce() (Conn, error) {
	rawURL, err := l.handshakeURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if l.apiKey != "" {
		header.Set("Authorization", "Token "+l.apiKey)
	}

	dialCtx, cancel := context.WithTimeout(l.ctx, l.connectTimeout())
	defer cancel()

	conn, err := l.dial(dialCtx, rawURL, header)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, fault.Errorf(fault.Timeout, "transcription connect timed out: %w", err)
		}
		return nil, fault.Errorf(fault.ConnectionFailed, "dial transcription backend: %w", err)
	}
	return conn, nil
}

// Send forwards one PCM frame. It never blocks the audio path: frames sent
// while the link is down are dropped, with a single warning per outage.
func (l *Link) Send(pcm []byte) error {
	l.mu.Lock()
	conn := l.conn
	ready := l.state == Connected || l.state == Streaming
	if ready {
		l.state = Streaming
		l.dropNoted = false
	} else if !l.dropNoted {
		l.dropNoted = true
		slog.Warn("transcription link down, dropping audio frames", "state", l.state.String())
	}
	l.mu.Unlock()

	if !ready {
		return nil
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fault.Errorf(fault.ConnectionFailed, "send audio frame: %w", err)
	}
	return nil
}

// Stop closes the link and disables reconnection. Idempotent.
func (l *Link) Stop() {
	l.mu.Lock()
	l.active = false
	l.state = Disconnected
	conn := l.conn
	l.conn = nil
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (l *Link) readLoop(conn Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			l.handleDisconnect(conn)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		l.dispatch(data)
	}
}

func (l *Link) dispatch(data []byte) {
	msgType, payload, err := decode(data)
	if err != nil {
		if l.cb.OnError != nil {
			l.cb.OnError(fault.Errorf(fault.ProcessingError, "dispatch: %w", err))
		}
		return
	}

	switch msgType {
	case TypeResults:
		if l.cb.OnResult != nil {
			l.cb.OnResult(payload.(Result))
		}
	case TypeMetadata:
		if l.cb.OnMetadata != nil {
			l.cb.OnMetadata(payload.(Metadata))
		}
	case TypeSpeechStarted:
		if l.cb.OnSpeechStarted != nil {
			l.cb.OnSpeechStarted()
		}
	case TypeUtteranceEnd:
		if l.cb.OnUtteranceEnd != nil {
			l.cb.OnUtteranceEnd(payload.(UtteranceEnd))
		}
	case TypeError:
		if l.cb.OnError != nil {
			l.cb.OnError(payload.(ErrorMessage))
		}
	default:
		slog.Debug("unhandled transcription message", "type", msgType)
	}
}

// handleDisconnect runs after the read loop errors out. While the meeting is
// still active it enters the reconnect loop. active is only cleared by Stop,
// so a read failure with active unset is the read loop unwinding from a
// deliberate close; OnClose stays reserved for unexpected terminal closes.
func (l *Link) handleDisconnect(conn Conn) {
	_ = conn.Close()

	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.state = Reconnecting
	l.mu.Unlock()

	l.reconnect()
}

func (l *Link) reconnect() {
	for {
		l.mu.Lock()
		if !l.active {
			l.mu.Unlock()
			return
		}
		l.attempts++
		attempt := l.attempts
		wait := l.delay

		// Double for the next attempt, capped at the ceiling.
		next := l.delay * 2
		if ceil := l.delayCeiling(); next > ceil {
			next = ceil
		}
		l.delay = next
		limit := l.reconnectLimit()
		l.mu.Unlock()

		if attempt > limit {
			l.giveUp()
			return
		}

		slog.Info("transcription reconnect scheduled", "attempt", attempt, "delay", wait)
		if !l.sleep(l.ctx, wait) {
			return
		}

		conn, err := l.dialOnce()
		if err != nil {
			slog.Warn("transcription reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		l.mu.Lock()
		if !l.active {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conn = conn
		l.state = Connected
		// A successful reconnect resets both counter and delay.
		l.attempts = 0
		l.delay = l.initialDelay()
		l.mu.Unlock()

		slog.Info("transcription link reconnected")
		go l.readLoop(conn)
		return
	}
}

func (l *Link) giveUp() {
	l.mu.Lock()
	l.active = false
	l.state = Disconnected
	l.mu.Unlock()

	if l.cb.OnError != nil {
		l.cb.OnError(fault.Errorf(fault.ConnectionFailed, "reconnect attempts exhausted after %d tries", l.reconnectLimit()))
	}
	if l.cb.OnClose != nil {
		l.cb.OnClose()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx == nil {
		time.Sleep(d)
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
