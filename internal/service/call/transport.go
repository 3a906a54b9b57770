package call

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrCredentialRequired 尚未选择可用凭证
	ErrCredentialRequired = errors.New("credential required")
	// ErrModelUnavailable 当前凭证无法访问请求的模型
	ErrModelUnavailable = errors.New("requested model unavailable")
)

// entityNotFound 模型或项目不存在时后端返回的消息
const entityNotFound = "Requested entity was not found"

// MediaChunk 实时输入分片，Data 为 base64
type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// EventType 流事件类型
type EventType int

const (
	EventOpened EventType = iota
	EventAudio
	EventInterrupted
	EventTurnComplete
	EventError
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event 实时端点下发的一条事件
type Event struct {
	Type  EventType
	Audio MediaChunk
	Err   error
}

// LiveConfig 建立连接时发送的配置
type LiveConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	APIKey            string
}

// Stream 已打开的双向实时流
type Stream interface {
	// Send 发送一个媒体分片，可并发调用
	Send(chunk MediaChunk) error
	// Events 下行事件，流结束时关闭
	Events() <-chan Event
	Close() error
}

// Connector 打开实时流
type Connector interface {
	Connect(ctx context.Context, cfg LiveConfig) (Stream, error)
}

// IsCredentialError 判断 err 是否应回到凭证选择而不是进入 error 状态
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCredentialRequired) || errors.Is(err, ErrModelUnavailable) {
		return true
	}
	return strings.Contains(err.Error(), entityNotFound)
}
