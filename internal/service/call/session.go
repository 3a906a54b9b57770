package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

var (
	// ErrCallInProgress 已有通话占用设备
	ErrCallInProgress = errors.New("call already in progress")
	// ErrCaptureDevice 麦克风或摄像头不可用
	ErrCaptureDevice = errors.New("capture device unavailable")
)

// Config 通话的模型与媒体参数
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string

	InputSampleRate  int
	OutputSampleRate int
	OutputChannels   int
	FrameSize        int

	VideoInterval time.Duration
	VideoWidth    int
	VideoHeight   int
	JPEGQuality   int
}

func (c Config) withDefaults() Config {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = 16000
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = 24000
	}
	if c.OutputChannels <= 0 {
		c.OutputChannels = 1
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 4096
	}
	if c.VideoInterval <= 0 {
		c.VideoInterval = time.Second
	}
	if c.VideoWidth <= 0 || c.VideoHeight <= 0 {
		c.VideoWidth, c.VideoHeight = 320, 240
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 50
	}
	return c
}

// Option 会话选项
type Option func(*Session)

// WithObserver 注册状态变化回调。回调在触发变化的协程中执行，不能阻塞。
func WithObserver(fn func(StateChange)) Option {
	return func(s *Session) { s.observer = fn }
}

// run 一次连接尝试持有的资源
type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	stream    Stream
	scheduler *Scheduler
	frames    <-chan []float32
	local     chan Event

	// pumps 只由 handle 协程 Add 和 Wait；done 在 handle 退出时关闭，未启动 handle 的 run 为 nil。
	pumps sync.WaitGroup
	done  chan struct{}

	inHandler    atomic.Bool
	teardownOnce sync.Once
	teardownErr  error
}

// Session 一次实时通话。流事件与本地错误都汇入同一个处理协程，由它驱动状态机。
type Session struct {
	cfg       Config
	connector Connector
	creds     CredentialProvider
	devices   Devices
	observer  func(StateChange)

	mu      sync.Mutex
	state   State
	lastErr error
	current *run
	pending *run

	muted     atomic.Bool
	cameraOff atomic.Bool
}

// NewSession 创建空闲状态的通话
func NewSession(cfg Config, connector Connector, creds CredentialProvider, devices Devices, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg.withDefaults(),
		connector: connector,
		creds:     creds,
		devices:   devices,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State 返回当前状态及导致该状态的错误
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Start 检查凭证后建立连接，也用于从 error 状态重试
func (s *Session) Start(ctx context.Context) error {
	if state, _ := s.State(); state.Busy() {
		return ErrCallInProgress
	}

	ok, err := s.creds.HasCredential(ctx)
	if err != nil {
		err = fmt.Errorf("check credential: %w", err)
		s.setState(StateError, err)
		return err
	}
	if !ok {
		s.setState(StateNeedsCredential, ErrCredentialRequired)
		return ErrCredentialRequired
	}
	return s.connect(ctx)
}

// SelectCredential 完成凭证选择并立即重连
func (s *Session) SelectCredential(ctx context.Context) error {
	if state, _ := s.State(); state.Busy() {
		return ErrCallInProgress
	}
	if err := s.creds.SelectCredential(ctx); err != nil {
		s.setState(StateNeedsCredential, err)
		return err
	}
	return s.connect(ctx)
}

// SetMuted 静音期间丢弃麦克风帧，连接保持
func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// Muted 是否静音
func (s *Session) Muted() bool {
	return s.muted.Load()
}

// SetCameraDisabled 关闭摄像头期间停止采样画面
func (s *Session) SetCameraDisabled(disabled bool) {
	s.cameraOff.Store(disabled)
	if s.devices.Video != nil {
		s.devices.Video.SetEnabled(!disabled)
	}
}

// CameraDisabled 摄像头是否关闭
func (s *Session) CameraDisabled() bool {
	return s.cameraOff.Load()
}

// Close 挂断。即使前面的步骤失败，每个释放步骤都会执行。
func (s *Session) Close() error {
	r := s.detach(nil)
	if r == nil {
		if state, _ := s.State(); state != StateIdle {
			s.setState(StateIdle, nil)
		}
		return nil
	}

	err := s.teardown(r)
	s.setState(StateIdle, nil)
	glog.Infof("[call] hung up")
	return err
}

func (s *Session) connect(ctx context.Context) error {
	r := &run{local: make(chan Event, 8)}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.state.Busy() {
		s.mu.Unlock()
		r.cancel()
		return ErrCallInProgress
	}
	s.state = StateConnecting
	s.lastErr = nil
	s.pending = r
	s.mu.Unlock()
	s.notify(StateChange{State: StateConnecting})

	frames, err := s.devices.Audio.Start(r.ctx)
	if err != nil {
		return s.abort(r, fmt.Errorf("%w: microphone: %v", ErrCaptureDevice, err))
	}
	r.frames = frames

	if s.devices.Video != nil {
		if err := s.devices.Video.Start(r.ctx); err != nil {
			return s.abort(r, fmt.Errorf("%w: camera: %v", ErrCaptureDevice, err))
		}
		s.devices.Video.SetEnabled(!s.cameraOff.Load())
	}

	r.scheduler = NewScheduler(s.devices.Output)

	stream, err := s.connector.Connect(ctx, LiveConfig{
		Model:             s.cfg.Model,
		Voice:             s.cfg.Voice,
		SystemInstruction: s.cfg.SystemInstruction,
		APIKey:            s.creds.Credential(),
	})
	if err != nil {
		return s.abort(r, fmt.Errorf("connect: %w", err))
	}
	r.stream = stream

	s.mu.Lock()
	if s.pending != r {
		// 连接期间已经挂断。
		s.mu.Unlock()
		if err := s.teardown(r); err != nil {
			glog.Warningf("[call] release after hangup during connect: %v", err)
		}
		return nil
	}
	s.pending = nil
	r.done = make(chan struct{})
	s.current = r
	s.mu.Unlock()

	glog.Infof("[call] connecting model=%s voice=%s", s.cfg.Model, s.cfg.Voice)
	go s.handle(r)
	return nil
}

// abort 释放尚未生效的 run。连接期间已挂断时不再改变状态。
func (s *Session) abort(r *run, cause error) error {
	s.mu.Lock()
	pending := s.pending == r
	if pending {
		s.pending = nil
	}
	s.mu.Unlock()

	if err := s.teardown(r); err != nil {
		glog.Warningf("[call] release after failed connect: %v", err)
	}
	if pending {
		s.settle(cause)
	}
	return cause
}

// handle 是 run 事件的唯一消费者，也是发送协程的唯一管理者
func (s *Session) handle(r *run) {
	defer func() {
		r.cancel()
		r.pumps.Wait()
		close(r.done)
	}()

	events := r.stream.Events()
	for {
		var ev Event
		select {
		case <-r.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				events = nil
				e = Event{Type: EventClosed}
			}
			ev = e
		case ev = <-r.local:
		}

		if r.ctx.Err() != nil {
			return
		}
		if s.dispatch(r, ev) {
			return
		}
	}
}

// dispatch 处理一个事件，返回 run 是否结束
func (s *Session) dispatch(r *run, ev Event) bool {
	switch ev.Type {
	case EventOpened:
		if !s.activate(r) {
			return true
		}
		glog.Infof("[call] stream open")
		r.pumps.Add(1)
		go s.pumpAudio(r)
		if s.devices.Video != nil {
			r.pumps.Add(1)
			go s.pumpVideo(r)
		}
	case EventAudio:
		buf, err := DecodeAudioChunk(ev.Audio.Data, s.cfg.OutputSampleRate, s.cfg.OutputChannels)
		if err != nil {
			glog.Warningf("[call] dropping inbound chunk: %v", err)
			return false
		}
		start, err := r.scheduler.Schedule(buf)
		if err != nil {
			glog.Warningf("[call] %v", err)
			return false
		}
		glog.V(2).Infof("[call] scheduled %s at %s", buf.Duration(), start)
	case EventInterrupted:
		n := r.scheduler.Interrupt()
		glog.V(1).Infof("[call] interrupted, stopped %d buffers", n)
	case EventTurnComplete:
	case EventError:
		s.finish(r, ev.Err)
		return true
	case EventClosed:
		s.finish(r, ev.Err)
		return true
	}
	return false
}

// activate 仅当 r 仍是当前 run 时切换到 active
func (s *Session) activate(r *run) bool {
	s.mu.Lock()
	if s.current != r {
		s.mu.Unlock()
		return false
	}
	s.state = StateActive
	s.lastErr = nil
	s.mu.Unlock()
	s.notify(StateChange{State: StateActive})
	return true
}

// finish 在处理协程内部结束 run
func (s *Session) finish(r *run, cause error) {
	if s.detach(r) == nil {
		return
	}
	r.inHandler.Store(true)
	if err := s.teardown(r); err != nil {
		glog.Warningf("[call] release: %v", err)
	}
	s.settle(cause)
}

// settle 根据 cause 进入对应的终止状态
func (s *Session) settle(cause error) {
	switch {
	case cause == nil:
		s.setState(StateIdle, nil)
	case IsCredentialError(cause):
		glog.Warningf("[call] credential rejected: %v", cause)
		s.setState(StateNeedsCredential, cause)
	default:
		glog.Errorf("[call] failed: %v", cause)
		s.setState(StateError, cause)
	}
}

// detach 摘下当前 run；want 为空时同时放弃进行中的连接，非空时只摘下该 run
func (s *Session) detach(want *run) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want == nil {
		s.pending = nil
	}
	r := s.current
	if r == nil || (want != nil && r != want) {
		return nil
	}
	s.current = nil
	return r
}

func (s *Session) teardown(r *run) error {
	r.teardownOnce.Do(func() {
		steps := []struct {
			name string
			fn   func() error
		}{
			{"stop loops", func() error { r.cancel(); return nil }},
			{"close stream", func() error {
				if r.stream == nil {
					return nil
				}
				return r.stream.Close()
			}},
			{"close output", func() error {
				if r.scheduler == nil {
					return s.devices.Output.Close()
				}
				return r.scheduler.Close()
			}},
			{"close microphone", s.devices.Audio.Close},
			{"close camera", func() error {
				if s.devices.Video == nil {
					return nil
				}
				return s.devices.Video.Close()
			}},
		}

		var errs []error
		for _, step := range steps {
			if err := runStep(step.name, step.fn); err != nil {
				errs = append(errs, err)
			}
		}
		// 从 handle 内部结束时 done 尚未关闭，由 handle 的 defer 等待 pumps。
		if r.done != nil && !r.inHandler.Load() {
			<-r.done
		}
		r.teardownErr = errors.Join(errs...)
	})
	return r.teardownErr
}

func runStep(name string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", name, p)
		}
	}()
	if e := fn(); e != nil {
		return fmt.Errorf("%s: %w", name, e)
	}
	return nil
}

// pumpAudio 转发麦克风帧直到 run 结束，静音期间的帧被丢弃
func (s *Session) pumpAudio(r *run) {
	defer r.pumps.Done()
	framer := NewFramer(s.cfg.FrameSize)
	for {
		select {
		case <-r.ctx.Done():
			return
		case samples, ok := <-r.frames:
			if !ok {
				return
			}
			for _, frame := range framer.Push(samples) {
				if s.muted.Load() {
					continue
				}
				if err := r.stream.Send(EncodeAudioFrame(frame, s.cfg.InputSampleRate)); err != nil {
					s.raise(r, fmt.Errorf("send audio: %w", err))
					return
				}
			}
		}
	}
}

// pumpVideo 定时采样摄像头，关闭期间不发送
func (s *Session) pumpVideo(r *run) {
	defer r.pumps.Done()
	ticker := time.NewTicker(s.cfg.VideoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if s.cameraOff.Load() {
				continue
			}
			img, err := s.devices.Video.Snapshot()
			if err != nil || img == nil {
				glog.V(2).Infof("[call] no camera frame: %v", err)
				continue
			}
			chunk, err := EncodeVideoFrame(img, s.cfg.VideoWidth, s.cfg.VideoHeight, s.cfg.JPEGQuality)
			if err != nil {
				glog.Warningf("[call] %v", err)
				continue
			}
			if err := r.stream.Send(chunk); err != nil {
				s.raise(r, fmt.Errorf("send video: %w", err))
				return
			}
		}
	}
}

func (s *Session) raise(r *run, err error) {
	select {
	case r.local <- Event{Type: EventError, Err: err}:
	case <-r.ctx.Done():
	}
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
	s.notify(StateChange{State: state, Err: err})
}

func (s *Session) notify(change StateChange) {
	if s.observer != nil {
		s.observer(change)
	}
}
