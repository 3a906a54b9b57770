// Package live 实现 Gemini Live 双向流的 WebSocket 客户端。
package live

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/doki/backend/internal/service/call"
)

// entityNotFound 是模型不可用时服务端给出的关闭原因。
const entityNotFound = "Requested entity was not found"

// Options 连接参数
type Options struct {
	DialTimeout  time.Duration // 握手超时
	WriteTimeout time.Duration // 单次写入超时
	PingInterval time.Duration // Ping间隔，0 表示关闭
	EventBuffer  int           // 事件通道容量
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		DialTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		EventBuffer:  64,
	}
}

// Client 打开到 Live 端点的流，实现 call.Connector。
type Client struct {
	endpoint string
	options  Options
	dialer   *websocket.Dialer
}

// NewClient 创建客户端。
func NewClient(endpoint string, options Options) *Client {
	defaults := DefaultOptions()
	if options.DialTimeout <= 0 {
		options.DialTimeout = defaults.DialTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaults.WriteTimeout
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = defaults.EventBuffer
	}

	return &Client{
		endpoint: endpoint,
		options:  options,
		dialer: &websocket.Dialer{
			HandshakeTimeout: options.DialTimeout,
		},
	}
}

// Connect 建立连接并发送 setup 消息。
func (c *Client) Connect(ctx context.Context, cfg call.LiveConfig) (call.Stream, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, call.ErrCredentialRequired
	}

	target, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse live endpoint: %w", err)
	}
	query := target.Query()
	query.Set("key", cfg.APIKey)
	target.RawQuery = query.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, classifyDialError(resp, err)
	}

	s := &stream{
		conn:    conn,
		options: c.options,
		events:  make(chan call.Event, c.options.EventBuffer),
		done:    make(chan struct{}),
	}

	if err := s.writeJSON(newSetup(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	glog.Infof("[live] connected model=%s voice=%s", cfg.Model, cfg.Voice)
	go s.readLoop()
	if c.options.PingInterval > 0 {
		go s.pingLoop()
	}
	return s, nil
}

func classifyDialError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", call.ErrModelUnavailable, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", call.ErrCredentialRequired, err)
		}
	}
	return fmt.Errorf("websocket dial failed: %w", err)
}

type stream struct {
	conn    *websocket.Conn
	options Options

	writeMu sync.Mutex
	events  chan call.Event

	done      chan struct{}
	closeOnce sync.Once
}

// Send 发送一个实时媒体分片。
func (s *stream) Send(chunk call.MediaChunk) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}
	return s.writeJSON(clientMessage{
		RealtimeInput: &realtimeInputMessage{MediaChunks: []call.MediaChunk{chunk}},
	})
}

func (s *stream) Events() <-chan call.Event {
	return s.events
}

// Close 发送关闭帧并断开连接。读循环退出后事件通道关闭。
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := s.conn.WriteMessage(websocket.CloseMessage, msg); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			glog.V(2).Infof("[live] write close frame: %v", werr)
		}
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *stream) writeJSON(v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal live message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *stream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closed(err)
			return
		}

		var msg serverMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			glog.Warningf("[live] 无法解析服务端消息: %v", err)
			continue
		}

		for _, ev := range translate(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

// closed 把读错误转换为终止事件。本地主动关闭时不再上报。
func (s *stream) closed(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && strings.Contains(closeErr.Text, entityNotFound):
		s.emit(call.Event{Type: call.EventError, Err: fmt.Errorf("%w: %s", call.ErrModelUnavailable, closeErr.Text)})
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
		s.emit(call.Event{Type: call.EventClosed})
	default:
		glog.Warningf("[live] connection lost: %v", err)
		s.emit(call.Event{Type: call.EventError, Err: fmt.Errorf("live stream: %w", err)})
	}
}

func (s *stream) emit(ev call.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *stream) pingLoop() {
	ticker := time.NewTicker(s.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				glog.V(2).Infof("[live] ping failed: %v", err)
				return
			}
		}
	}
}

// translate 把一条服务端消息拆成若干通话事件。
func translate(msg serverMessage) []call.Event {
	var events []call.Event

	if msg.SetupComplete != nil {
		events = append(events, call.Event{Type: call.EventOpened})
	}

	if msg.Error != nil {
		err := fmt.Errorf("live error %d %s: %s", msg.Error.Code, msg.Error.Status, msg.Error.Message)
		if msg.Error.Code == http.StatusNotFound || strings.Contains(msg.Error.Message, entityNotFound) {
			err = fmt.Errorf("%w: %s", call.ErrModelUnavailable, msg.Error.Message)
		}
		events = append(events, call.Event{Type: call.EventError, Err: err})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					continue
				}
				events = append(events, call.Event{Type: call.EventAudio, Audio: *part.InlineData})
			}
		}
		if sc.Interrupted {
			events = append(events, call.Event{Type: call.EventInterrupted})
		}
		if sc.TurnComplete {
			events = append(events, call.Event{Type: call.EventTurnComplete})
		}
	}

	if msg.GoAway != nil {
		glog.Infof("[live] server requested disconnect")
	}
	return events
}
