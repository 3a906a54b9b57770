// Package call 把浏览器的通话界面桥接到实时语音会话。
package call

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/doki/backend/internal/model/persona"
	"github.com/zhouzirui/doki/backend/internal/service/ai"
	"github.com/zhouzirui/doki/backend/internal/service/call"
	chatservice "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler 通话 WebSocket 处理器
type Handler struct {
	chatSvc      *chatservice.Service
	personaStore persona.Store
	connector    call.Connector
	creds        *call.KeyCredentials
	slot         *call.Slot
	base         call.Config
	upgrader     websocket.Upgrader
}

// New 创建通话处理器。base 提供模型与媒体参数，音色与系统指令按会话填充。
func New(chatSvc *chatservice.Service, personaStore persona.Store, connector call.Connector, creds *call.KeyCredentials, base call.Config) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
		connector:    connector,
		creds:        creds,
		slot:         &call.Slot{},
		base:         base,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册通话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/call/{sessionID}", h.handleCall)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Key     string `json:"key,omitempty"`
}

type readyOut struct {
	Type             string `json:"type"`
	Persona          string `json:"persona"`
	Voice            string `json:"voice"`
	InputSampleRate  int    `json:"inputSampleRate"`
	OutputSampleRate int    `json:"outputSampleRate"`
	FrameSize        int    `json:"frameSize"`
}

type stateOut struct {
	Type  string     `json:"type"`
	State call.State `json:"state"`
	Error string     `json:"error,omitempty"`
}

type flagOut struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type errorOut struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// peer 串行化对浏览器连接的写入。
type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleCall 处理一次通话连接
func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.Get(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	p, ok := h.personaStore.FindByID(session.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusConflict, "persona for session no longer exists")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[call] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	out := &peer{conn: conn}

	cfg := h.base
	cfg.Voice = session.Voice(p.VoiceID)
	cfg.SystemInstruction = ai.BuildCallInstruction(p, session.IntimacyMode)

	audio := &remoteAudio{}
	video := &remoteVideo{notify: func(enabled bool) {
		_ = out.send(flagOut{Type: "camera", Enabled: enabled})
	}}
	devices := call.Devices{
		Audio:  audio,
		Video:  video,
		Output: &remoteOutput{epoch: time.Now(), send: out.send},
	}

	callSession := call.NewSession(cfg, h.connector, h.creds, devices, call.WithObserver(func(c call.StateChange) {
		if call.IsCredentialError(c.Err) {
			h.creds.Forget()
		}
		msg := stateOut{Type: "state", State: c.State}
		if c.Err != nil {
			msg.Error = c.Err.Error()
		}
		if err := out.send(msg); err != nil {
			glog.V(2).Infof("[call] state not delivered: %v", err)
		}
	}))

	if err := h.slot.TryAcquire(callSession); err != nil {
		_ = out.send(errorOut{Type: "error", Message: err.Error()})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeTimeout))
		return
	}
	defer h.slot.Release(callSession)
	defer func() {
		if err := callSession.Close(); err != nil {
			glog.Warningf("[call] teardown session=%s: %v", sessionID, err)
		}
	}()

	glog.Infof("[call] bridge open session=%s persona=%s voice=%s", sessionID, p.ID, cfg.Voice)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go h.pingLoop(ctx, out)

	if err := out.send(readyOut{
		Type:             "ready",
		Persona:          p.ID,
		Voice:            cfg.Voice,
		InputSampleRate:  cfg.InputSampleRate,
		OutputSampleRate: cfg.OutputSampleRate,
		FrameSize:        cfg.FrameSize,
	}); err != nil {
		return
	}

	h.start(ctx, callSession.Start)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Warningf("[call] read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			_ = out.send(errorOut{Type: "error", Message: "invalid message"})
			continue
		}

		if done := h.handleMessage(ctx, out, callSession, audio, video, msg); done {
			return
		}
	}
}

// handleMessage 处理浏览器消息，返回 true 表示挂断。
func (h *Handler) handleMessage(ctx context.Context, out *peer, s *call.Session, audio *remoteAudio, video *remoteVideo, msg inboundMessage) bool {
	switch msg.Type {
	case "audio":
		samples, err := decodeFloat32(msg.Data)
		if err != nil {
			glog.V(2).Infof("[call] %v", err)
			return false
		}
		if !audio.push(samples) {
			glog.V(2).Infof("[call] dropped %d microphone samples", len(samples))
		}
	case "video":
		if err := video.update(msg.Data); err != nil {
			glog.V(2).Infof("[call] %v", err)
		}
	case "mute":
		muted := msg.Enabled == nil || *msg.Enabled
		s.SetMuted(muted)
		_ = out.send(flagOut{Type: "mute", Enabled: muted})
	case "camera":
		enabled := msg.Enabled == nil || *msg.Enabled
		s.SetCameraDisabled(!enabled)
	case "credential":
		h.creds.Offer(msg.Key)
		h.start(ctx, s.SelectCredential)
	case "retry", "start":
		h.start(ctx, s.Start)
	case "hangup":
		if err := s.Close(); err != nil {
			glog.Warningf("[call] hangup: %v", err)
		}
		return true
	default:
		_ = out.send(errorOut{Type: "error", Message: "unsupported message type: " + msg.Type})
	}
	return false
}

// start 调用 Start 或 SelectCredential。失败已经通过状态消息通知浏览器，这里只记录日志。
func (h *Handler) start(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		if errors.Is(err, call.ErrCallInProgress) || call.IsCredentialError(err) {
			glog.V(1).Infof("[call] start: %v", err)
			return
		}
		glog.Warningf("[call] start: %v", err)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, out *peer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}
