package call

import (
	"context"
	"image"
	"time"
)

// AudioCapture 按采集端自己的缓冲节奏投递麦克风采样，停止采集时关闭通道
type AudioCapture interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Close() error
}

// VideoCapture 提供最近一帧摄像头画面
type VideoCapture interface {
	Start(ctx context.Context) error
	Snapshot() (image.Image, error)
	SetEnabled(enabled bool)
	Close() error
}

// AudioOutput 按自身的单调时钟播放音频
type AudioOutput interface {
	Now() time.Duration
	Play(buf PCMBuffer, at time.Duration) (Playback, error)
	Close() error
}

// Playback 一段已排期、可中途停止的音频
type Playback interface {
	Stop() error
}

// Devices 一次通话占用的采集与播放设备，纯语音通话时 Video 为 nil
type Devices struct {
	Audio  AudioCapture
	Video  VideoCapture
	Output AudioOutput
}
