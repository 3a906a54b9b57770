package call

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"
)

type fakePlayback struct {
	mu      sync.Mutex
	at      time.Duration
	buf     PCMBuffer
	stopped bool
}

func (p *fakePlayback) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeOutput struct {
	mu        sync.Mutex
	now       time.Duration
	playbacks []*fakePlayback
	closed    bool
	closeErr  error
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
}

func (o *fakeOutput) Play(buf PCMBuffer, at time.Duration) (Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := &fakePlayback{at: at, buf: buf}
	o.playbacks = append(o.playbacks, p)
	return p, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return o.closeErr
}

func (o *fakeOutput) Playbacks() []*fakePlayback {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakePlayback(nil), o.playbacks...)
}

func (o *fakeOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeAudio struct {
	mu       sync.Mutex
	frames   chan []float32
	startErr error
	closed   bool
	panicky  bool
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{frames: make(chan []float32)}
}

func (a *fakeAudio) Start(context.Context) (<-chan []float32, error) {
	if a.startErr != nil {
		return nil, a.startErr
	}
	return a.frames, nil
}

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	if a.panicky {
		panic("microphone driver crashed")
	}
	return nil
}

func (a *fakeAudio) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type fakeVideo struct {
	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (v *fakeVideo) Start(context.Context) error { return nil }

func (v *fakeVideo) Snapshot() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(1, 1, color.White)
	return img, nil
}

func (v *fakeVideo) SetEnabled(enabled bool) {
	v.mu.Lock()
	v.enabled = enabled
	v.mu.Unlock()
}

func (v *fakeVideo) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

func (v *fakeVideo) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

func (v *fakeVideo) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

type fakeStream struct {
	mu       sync.Mutex
	events   chan Event
	sent     []MediaChunk
	closed   bool
	closeErr error
	once     sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 16)}
}

func (s *fakeStream) Send(chunk MediaChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return s.closeErr
}

func (s *fakeStream) Sent(mime string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.sent {
		if c.MIMEType == mime {
			n++
		}
	}
	return n
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConnector struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	calls  []LiveConfig
	gate   func()
}

func (c *fakeConnector) Connect(_ context.Context, cfg LiveConfig) (Stream, error) {
	if c.gate != nil {
		c.gate()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cfg)
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func (c *fakeConnector) Calls() []LiveConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LiveConfig(nil), c.calls...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
