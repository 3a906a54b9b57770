package call

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// PCMBuffer 解码后的音频，交错排列的 float 采样，取值 [-1, 1]
type PCMBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames 每个声道的采样数
func (b PCMBuffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration 播放时长
func (b PCMBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// FloatToPCM16 把采样乘以 32768 并截断，转换为 16 位小端 PCM
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat 把 16 位小端 PCM 除以 32768 转回采样，末尾多出的单字节忽略
func PCM16ToFloat(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out
}

// EncodeAudioFrame 把一帧麦克风采样打包成实时媒体分片
func EncodeAudioFrame(samples []float32, sampleRate int) MediaChunk {
	return MediaChunk{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
	}
}

// DecodeAudioChunk 解码 base64 PCM16 分片
func DecodeAudioChunk(data string, sampleRate, channels int) (PCMBuffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("decode audio chunk: %w", err)
	}
	if channels <= 0 {
		channels = 1
	}
	samples := PCM16ToFloat(raw)
	samples = samples[:len(samples)-len(samples)%channels]
	return PCMBuffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Framer 把任意长度的采样批次重新切成固定大小的帧
type Framer struct {
	size    int
	pending []float32
}

// NewFramer 创建分帧器
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = 4096
	}
	return &Framer{size: size, pending: make([]float32, 0, size)}
}

// Push 追加采样并返回所有已凑满的帧
func (f *Framer) Push(samples []float32) [][]float32 {
	var frames [][]float32
	for len(samples) > 0 {
		n := f.size - len(f.pending)
		if n > len(samples) {
			n = len(samples)
		}
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			frames = append(frames, f.pending)
			f.pending = make([]float32, 0, f.size)
		}
	}
	return frames
}

// Pending 尚未输出的缓存采样数
func (f *Framer) Pending() int {
	return len(f.pending)
}
