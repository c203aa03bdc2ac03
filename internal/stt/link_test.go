package stt

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/fault"
)

type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	readErr  error
	closed   bool
	closedCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closedCh: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("connection reset")
		}
		return websocket.TextMessage, data, nil
	case <-c.closedCh:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) drop() { close(c.inbound) }

func (c *fakeConn) writtenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func testTranscriptionConfig() config.Transcription {
	return config.Transcription{
		URL:            "wss://stt.example.com/v1/listen",
		Model:          "nova-2",
		Language:       "en-US",
		Encoding:       "linear16",
		SampleRate:     16000,
		Channels:       1,
		Diarize:        true,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		EndpointingMS:  300,
		Alternatives:   1,
		Sentiment:      true,
		Keywords:       []string{"pitchlens", "renewal"},
		ConnectTimeout: "2s",
		ReconnectDelay: "1s",
		ReconnectCeil:  "30s",
		ReconnectLimit: 5,
	}
}

// dialScript returns a dial func that pops connections (or errors) in order.
type dialScript struct {
	mu      sync.Mutex
	conns   []*fakeConn
	errs    []error
	dials   int
	headers []http.Header
	urls    []string
}

func (d *dialScript) dial(_ context.Context, rawURL string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, rawURL)
	d.headers = append(d.headers, header)

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no scripted connection")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *dialScript) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestLink(t *testing.T, script *dialScript, cb Callbacks) (*Link, chan time.Duration) {
	t.Helper()
	link := NewLink(testTranscriptionConfig(), "dg-key", cb)
	link.dial = script.dial

	delays := make(chan time.Duration, 16)
	link.sleep = func(ctx context.Context, d time.Duration) bool {
		delays <- d
		return ctx == nil || ctx.Err() == nil
	}
	return link, delays
}

func TestHandshakeURLEncodesParameters(t *testing.T) {
	link := NewLink(testTranscriptionConfig(), "dg-key", Callbacks{})

	raw, err := link.handshakeURL()
	if err != nil {
		t.Fatalf("handshakeURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse handshake url: %v", err)
	}
	q := u.Query()

	for key, want := range map[string]string{
		"model":           "nova-2",
		"language":        "en-US",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"diarize":         "true",
		"punctuate":       "true",
		"smart_format":    "true",
		"interim_results": "true",
		"endpointing":     "300",
		"alternatives":    "1",
		"sentiment":       "true",
		"summarize":       "false",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("param %s: got %q, want %q", key, got, want)
		}
	}
	if kws := q["keywords"]; len(kws) != 2 {
		t.Errorf("expected 2 keyword params, got %v", kws)
	}
}

func TestConnectSendsAuthHeader(t *testing.T) {
	script := &dialScript{conns: []*fakeConn{newFakeConn()}}
	link, _ := newTestLink(t, script, Callbacks{})

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer link.Stop()

	if got := script.headers[0].Get("Authorization"); got != "Token dg-key" {
		t.Fatalf("expected bearer-style token header, got %q", got)
	}
	if link.State() != Connected {
		t.Fatalf("expected connected, got %s", link.State())
	}
}

func TestSendForwardsFramesAndMarksStreaming(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}
	link, _ := newTestLink(t, script, Callbacks{})

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer link.Stop()

	if err := link.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if conn.writtenCount() != 1 {
		t.Fatalf("expected 1 written frame, got %d", conn.writtenCount())
	}
	if link.State() != Streaming {
		t.Fatalf("expected streaming, got %s", link.State())
	}
}

func TestSendWhileDownDropsWithoutBlocking(t *testing.T) {
	link := NewLink(testTranscriptionConfig(), "dg-key", Callbacks{})

	done := make(chan error, 1)
	go func() { done <- link.Send([]byte{1, 2}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dropped send should not error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked while link down")
	}
}

func TestResultDispatch(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}

	results := make(chan Result, 1)
	utterances := make(chan UtteranceEnd, 1)
	errs := make(chan error, 1)
	link, _ := newTestLink(t, script, Callbacks{
		OnResult:       func(r Result) { results <- r },
		OnUtteranceEnd: func(u UtteranceEnd) { utterances <- u },
		OnError:        func(err error) { errs <- err },
	})

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer link.Stop()

	conn.inbound <- []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.95,"words":[{"punctuated_word":"hello","speaker":0,"start":0,"end":0.4,"confidence":0.95},{"punctuated_word":"there","speaker":0,"start":0.4,"end":0.8,"confidence":0.95}]}]}}`)
	conn.inbound <- []byte(`{"type":"UtteranceEnd","last_word_end":0.8}`)
	conn.inbound <- []byte(`{"type":"Error","err_code":"BAD_REQUEST","description":"nope"}`)

	select {
	case r := <-results:
		if !r.IsFinal || !r.SpeechFinal {
			t.Fatalf("unexpected result flags: %+v", r)
		}
		if len(r.Channel.Alternatives) != 1 || r.Channel.Alternatives[0].Transcript != "hello there" {
			t.Fatalf("unexpected alternatives: %+v", r.Channel)
		}
		if got := r.Channel.Alternatives[0].Words[0].Speaker; got == nil || *got != 0 {
			t.Fatalf("expected speaker tag 0, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}

	select {
	case u := <-utterances:
		if u.LastWordEnd != 0.8 {
			t.Fatalf("unexpected utterance end: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for utterance end")
	}

	select {
	case err := <-errs:
		var em ErrorMessage
		if !errors.As(err, &em) || em.ErrCode != "BAD_REQUEST" {
			t.Fatalf("unexpected error payload: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestStopDoesNotFireCloseCallback(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}

	closed := make(chan struct{}, 1)
	link, _ := newTestLink(t, script, Callbacks{
		OnClose: func() { closed <- struct{}{} },
	})

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	link.Stop()

	select {
	case <-closed:
		t.Fatal("OnClose fired for a deliberate Stop")
	case <-time.After(100 * time.Millisecond):
	}
	if link.State() != Disconnected {
		t.Fatalf("expected disconnected after stop, got %s", link.State())
	}
	if got := script.dialCount(); got != 1 {
		t.Fatalf("expected no reconnect dials after stop, got %d", got)
	}
}

func TestReconnectBackoffSequenceAndGiveUp(t *testing.T) {
	first := newFakeConn()
	script := &dialScript{
		conns: []*fakeConn{first},
		// After the initial dial, every reconnect attempt fails.
		errs: []error{nil, errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down")},
	}

	errs := make(chan error, 4)
	closed := make(chan struct{}, 1)
	link, delays := newTestLink(t, script, Callbacks{
		OnError: func(err error) { errs <- err },
		OnClose: func() { closed <- struct{}{} },
	})

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first.drop()

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, wantDelay := range want {
		select {
		case d := <-delays:
			if d != wantDelay {
				t.Fatalf("attempt %d: delay %v, want %v", i+1, d, wantDelay)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reconnect attempt %d", i+1)
		}
	}

	select {
	case err := <-errs:
		if !fault.Is(err, fault.ConnectionFailed) {
			t.Fatalf("expected CONNECTION_FAILED, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal error")
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close event")
	}
	if link.State() != Disconnected {
		t.Fatalf("expected disconnected after giving up, got %s", link.State())
	}
}

func TestReconnectSuccessResetsBackoff(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	third := newFakeConn()
	script := &dialScript{
		conns: []*fakeConn{first, second, third},
		// Initial dial ok, one failed reconnect, then success; later a second
		// outage whose first retry succeeds immediately.
		errs: []error{nil, errors.New("down"), nil, nil},
	}

	link, delays := newTestLink(t, script, Callbacks{})
	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first.drop()

	if d := <-delays; d != 1*time.Second {
		t.Fatalf("first delay %v, want 1s", d)
	}
	if d := <-delays; d != 2*time.Second {
		t.Fatalf("second delay %v, want 2s", d)
	}

	waitForState(t, link, Connected)

	// Second outage: reset policy means the delay starts over at 1s.
	second.drop()
	if d := <-delays; d != 1*time.Second {
		t.Fatalf("delay after successful reconnect %v, want 1s", d)
	}
	waitForState(t, link, Connected)
	link.Stop()
}

func TestStopIsIdempotentAndDisablesReconnect(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}
	link, delays := newTestLink(t, script, Callbacks{})

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	link.Stop()
	link.Stop()

	select {
	case d := <-delays:
		t.Fatalf("unexpected reconnect attempt after stop (delay %v)", d)
	case <-time.After(100 * time.Millisecond):
	}
	if link.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", link.State())
	}
}

func waitForState(t *testing.T, link *Link, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if link.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, at %s", want, link.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
