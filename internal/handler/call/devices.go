package call

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/doki/backend/internal/service/call"
)

var errNoFrame = errors.New("no camera frame yet")

// remoteAudio 接收浏览器上传的麦克风采样。
type remoteAudio struct {
	mu     sync.Mutex
	frames chan []float32
}

func (a *remoteAudio) Start(context.Context) (<-chan []float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames = make(chan []float32, 32)
	return a.frames, nil
}

// push 投递一批采样，队列满时丢弃。
func (a *remoteAudio) push(samples []float32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frames == nil {
		return false
	}
	select {
	case a.frames <- samples:
		return true
	default:
		return false
	}
}

func (a *remoteAudio) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frames != nil {
		close(a.frames)
		a.frames = nil
	}
	return nil
}

// decodeFloat32 解析 base64 编码的 float32 小端采样。
func decodeFloat32(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("decode samples: %d bytes is not a whole number of float32", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// remoteVideo 保存浏览器最近上传的一帧画面。
type remoteVideo struct {
	mu      sync.Mutex
	latest  image.Image
	enabled bool
	notify  func(enabled bool)
}

func (v *remoteVideo) Start(context.Context) error {
	v.mu.Lock()
	v.latest = nil
	v.mu.Unlock()
	return nil
}

func (v *remoteVideo) update(data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	v.mu.Lock()
	v.latest = img
	v.mu.Unlock()
	return nil
}

func (v *remoteVideo) Snapshot() (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.enabled || v.latest == nil {
		return nil, errNoFrame
	}
	return v.latest, nil
}

func (v *remoteVideo) SetEnabled(enabled bool) {
	v.mu.Lock()
	changed := v.enabled != enabled
	v.enabled = enabled
	notify := v.notify
	v.mu.Unlock()

	if changed && notify != nil {
		notify(enabled)
	}
}

func (v *remoteVideo) Close() error {
	v.mu.Lock()
	v.latest = nil
	v.mu.Unlock()
	return nil
}

// remoteOutput 把排好时间的音频块发给浏览器播放。
// 时钟从桥接建立时开始计时，startAt 以该时钟的秒数表示。
type remoteOutput struct {
	epoch  time.Time
	send   func(v any) error
	nextID atomic.Uint64
}

type audioOut struct {
	Type       string  `json:"type"`
	ID         uint64  `json:"id"`
	StartAt    float64 `json:"startAt"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	Data       string  `json:"data"`
}

type stopOut struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`
}

func (o *remoteOutput) Now() time.Duration {
	return time.Since(o.epoch)
}

func (o *remoteOutput) Play(buf call.PCMBuffer, at time.Duration) (call.Playback, error) {
	id := o.nextID.Add(1)
	err := o.send(audioOut{
		Type:       "audio",
		ID:         id,
		StartAt:    at.Seconds(),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Data:       base64.StdEncoding.EncodeToString(call.FloatToPCM16(buf.Samples)),
	})
	if err != nil {
		return nil, err
	}
	return &remotePlayback{id: id, send: o.send}, nil
}

func (o *remoteOutput) Close() error {
	return o.send(stopOut{Type: "stop"})
}

type remotePlayback struct {
	id   uint64
	send func(v any) error
	once sync.Once
}

func (p *remotePlayback) Stop() error {
	var err error
	p.once.Do(func() {
		err = p.send(stopOut{Type: "stop", ID: p.id})
	})
	return err
}
