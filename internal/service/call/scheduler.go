package call

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSchedulerClosed 关闭后继续排期时返回
var ErrSchedulerClosed = errors.New("playback scheduler closed")

type scheduled struct {
	playback Playback
	end      time.Duration
}

// Scheduler 在输出时钟上首尾相接地排期音频。
// 游标是最后一段的结束时间，新的一段从 max(游标, 当前时钟) 开始。
type Scheduler struct {
	mu     sync.Mutex
	out    AudioOutput
	cursor time.Duration
	active map[uint64]scheduled
	nextID uint64
	closed bool
}

// NewScheduler 绑定输出设备
func NewScheduler(out AudioOutput) *Scheduler {
	return &Scheduler{out: out, active: make(map[uint64]scheduled)}
}

// Schedule 把 buf 排在已排期音频之后，返回开始时间
func (s *Scheduler) Schedule(buf PCMBuffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSchedulerClosed
	}

	now := s.out.Now()
	s.pruneLocked(now)

	start := s.cursor
	if now > start {
		start = now
	}

	playback, err := s.out.Play(buf, start)
	if err != nil {
		return 0, fmt.Errorf("schedule playback: %w", err)
	}

	end := start + buf.Duration()
	s.cursor = end
	s.nextID++
	s.active[s.nextID] = scheduled{playback: playback, end: end}
	return start, nil
}

// Interrupt 停止所有排期中的音频并把游标归零，返回被打断的段数
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	_ = s.stopAllLocked()
	s.cursor = 0
	return n
}

// Cursor 最后一段的结束时间
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active 排期中或正在播放的段数
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.out.Now())
	return len(s.active)
}

// Close 停止播放并释放输出设备
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.stopAllLocked()
	s.cursor = 0
	return errors.Join(stopErr, s.out.Close())
}

func (s *Scheduler) stopAllLocked() error {
	var errs []error
	for id, item := range s.active {
		if err := item.playback.Stop(); err != nil {
			errs = append(errs, err)
		}
		delete(s.active, id)
	}
	return errors.Join(errs...)
}

// pruneLocked 清理已播放完的段
func (s *Scheduler) pruneLocked(now time.Duration) {
	for id, item := range s.active {
		if item.end <= now {
			delete(s.active, id)
		}
	}
}
