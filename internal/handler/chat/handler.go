package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
	chatService "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/service/media"
	"github.com/zhouzirui/doki/backend/pkg/utils"
)

// Replier 生成角色的文本回复，失败时返回可展示的文本而不是错误。
type Replier interface {
	GetReply(ctx context.Context, p persona.Persona, history []chat.Message, intimacy bool) string
}

// ImageGenerator 生成场景图片，失败时返回空字符串。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, intimacy bool) string
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	personaStore persona.Store
	replier      Replier
	images       ImageGenerator
	taskTimeout  time.Duration

	tasks sync.WaitGroup
}

// New 创建聊天处理器。replier 与 images 可以为 nil，对应的接口返回 503。
func New(chatSvc *chatService.Service, personaStore persona.Store, replier Replier, images ImageGenerator, taskTimeout time.Duration) *Handler {
	if taskTimeout <= 0 {
		taskTimeout = 90 * time.Second
	}
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
		replier:      replier,
		images:       images,
		taskTimeout:  taskTimeout,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/options", h.handleOptions)

	r.Get("/state", h.handleState)
	r.Put("/state/active", h.handleSetActive)

	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleStartChat)
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Delete("/", h.handleDeleteSession)
		sr.Post("/messages", h.handleSendMessage)
		sr.Patch("/preferences", h.handleUpdatePreferences)
		sr.Post("/intimacy", h.handleToggleIntimacy)
		sr.Post("/images", h.handleGenerateImage)
		sr.Get("/events", h.handleEvents)
	})
}

// Wait 等待后台回复与生图任务结束。
func (h *Handler) Wait() {
	h.tasks.Wait()
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"voices":       chat.Voices,
		"defaultVoice": chat.DefaultVoice,
		"bubbleStyles": chat.BubbleStyles,
		"bubbleThemes": chat.BubbleThemes,
	})
}

type stateResponse struct {
	ActiveSessionID string         `json:"activeSessionId,omitempty"`
	View            chat.View      `json:"view"`
	Sessions        []chat.Session `json:"sessions"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	activeID, view := h.chatSvc.Active()
	utils.RespondJSON(w, http.StatusOK, stateResponse{
		ActiveSessionID: activeID,
		View:            view,
		Sessions:        h.chatSvc.List(),
	})
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.SetActive(strings.TrimSpace(payload.SessionID)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.handleState(w, r)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.List())
}

// handleStartChat 打开角色的会话，首次对话时创建并写入问候语。
func (h *Handler) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.PersonaID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	p, ok := h.personaStore.FindByID(payload.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	session, created, err := h.chatSvc.StartChat(p)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, session)
}

type sessionResponse struct {
	Session  chat.Session           `json:"session"`
	Persona  persona.Persona        `json:"persona"`
	Voice    string                 `json:"voice"`
	Style    chat.BubbleStyle       `json:"bubbleStyle"`
	Theme    chat.BubbleTheme       `json:"bubbleTheme"`
	Activity []chatService.Activity `json:"activity"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, p, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	activity := h.chatSvc.Activity(session.ID)
	if activity == nil {
		activity = []chatService.Activity{}
	}
	utils.RespondJSON(w, http.StatusOK, sessionResponse{
		Session:  session,
		Persona:  p,
		Voice:    session.Voice(p.VoiceID),
		Style:    session.Style(),
		Theme:    session.Theme(),
		Activity: activity,
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 追加用户消息并在后台生成回复，立即返回 202。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content  string `json:"content"`
		ImageRef string `json:"imageRef"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, p, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	msg, err := h.chatSvc.AppendMessage(session.ID, chat.Message{
		Role:     chat.RoleUser,
		Content:  strings.TrimSpace(payload.Content),
		ImageRef: payload.ImageRef,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if h.replier == nil {
		utils.RespondJSON(w, http.StatusAccepted, map[string]any{"message": msg, "reply": false})
		return
	}

	h.spawn(r.Context(), func(ctx context.Context) {
		h.reply(ctx, session.ID, p)
	})
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{"message": msg, "reply": true})
}

func (h *Handler) reply(ctx context.Context, sessionID string, p persona.Persona) {
	done := h.chatSvc.BeginActivity(sessionID, chatService.ActivityReplying)
	defer done()

	session, err := h.chatSvc.Get(sessionID)
	if err != nil {
		glog.Infof("[chat] session=%s gone before reply", sessionID)
		return
	}

	text := h.replier.GetReply(ctx, p, session.Messages, session.IntimacyMode)
	h.appendPersonaMessage(sessionID, chat.Message{Role: chat.RolePersona, Content: text})
}

func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs chat.Preferences
	if err := utils.DecodeJSON(r, &prefs); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.UpdatePreferences(chi.URLParam(r, "sessionID"), prefs)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleToggleIntimacy(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.ToggleIntimacy(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleGenerateImage 在后台生成场景图，成功后作为角色消息追加。
func (h *Handler) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "image generation unavailable")
		return
	}

	var payload struct {
		Prompt string `json:"prompt"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, p, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	subject := strings.TrimSpace(payload.Prompt)
	if subject == "" {
		subject = media.ScenePrompt(p, session)
	}

	h.spawn(r.Context(), func(ctx context.Context) {
		h.generateImage(ctx, session.ID, p, subject)
	})
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) generateImage(ctx context.Context, sessionID string, p persona.Persona, subject string) {
	done := h.chatSvc.BeginActivity(sessionID, chatService.ActivityImaging)
	defer done()

	session, err := h.chatSvc.Get(sessionID)
	if err != nil {
		glog.Infof("[chat] session=%s gone before image", sessionID)
		return
	}

	image := h.images.GenerateImage(ctx, subject, session.IntimacyMode)
	if image == "" {
		glog.Warningf("[chat] no image for session=%s", sessionID)
		return
	}

	h.appendPersonaMessage(sessionID, chat.Message{
		Role:     chat.RolePersona,
		Content:  media.ImageCaption(p, session.IntimacyMode),
		ImageRef: image,
	})
}

// appendPersonaMessage 追加后台结果。会话在等待期间被删除时丢弃结果。
func (h *Handler) appendPersonaMessage(sessionID string, msg chat.Message) {
	if _, err := h.chatSvc.AppendMessage(sessionID, msg); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			glog.Infof("[chat] session=%s deleted, dropping late message", sessionID)
			return
		}
		glog.Errorf("[chat] append persona message session=%s: %v", sessionID, err)
	}
}

// spawn 在请求结束后继续执行任务，保留请求上下文中的值但不随其取消。
func (h *Handler) spawn(parent context.Context, task func(ctx context.Context)) {
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.taskTimeout)
		defer cancel()
		task(ctx)
	}()
}

// handleEvents 以 SSE 推送会话的状态变化。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.Get(sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	updates, cancel := h.chatSvc.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	glog.V(1).Infof("[sse] opening event stream for session=%s", sessionID)

	if err := utils.SendSSEEvent(w, flusher, string(chatService.UpdateSession), chatService.Update{
		Kind:      chatService.UpdateSession,
		SessionID: session.ID,
		Session:   &session,
		Activity:  h.chatSvc.Activity(sessionID),
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			glog.V(1).Infof("[sse] closing event stream for session=%s", sessionID)
			return
		case t := <-heartbeat.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.SessionID != sessionID && update.Kind != chatService.UpdateActive {
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, string(update.Kind), update); err != nil {
				return
			}
			if update.Kind == chatService.UpdateDeleted && update.SessionID == sessionID {
				return
			}
		}
	}
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (chat.Session, persona.Persona, bool) {
	session, err := h.chatSvc.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return chat.Session{}, persona.Persona{}, false
	}

	p, ok := h.personaStore.FindByID(session.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusConflict, "persona for session no longer exists")
		return chat.Session{}, persona.Persona{}, false
	}
	return session, p, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrPersonaRequired),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrInvalidRole),
		errors.Is(err, chatService.ErrInvalidPreference):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		glog.Errorf("[chat] %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
