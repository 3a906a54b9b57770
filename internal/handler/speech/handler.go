package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/zhouzirui/doki/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/service/media"
	"github.com/zhouzirui/doki/backend/pkg/utils"
)

const maxAudioUpload = 32 << 20 // 32MB

// Synthesizer 抽象语音合成，便于测试与替换实现
type Synthesizer interface {
	GenerateSpeech(ctx context.Context, text, voice string) []byte
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	synth        Synthesizer
	recognizer   media.SpeechRecognizer
	chatSvc      *chatservice.Service
	personaStore persona.Store
}

// New 创建语音处理器。synth 或 recognizer 为 nil 时对应接口返回 503。
func New(synth Synthesizer, recognizer media.SpeechRecognizer, chatSvc *chatservice.Service, personaStore persona.Store) *Handler {
	return &Handler{
		synth:        synth,
		recognizer:   recognizer,
		chatSvc:      chatSvc,
		personaStore: personaStore,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
}

type synthesizeRequest struct {
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	SessionID string `json:"sessionId"`
}

// handleSynthesize 把文本合成为 WAV。未指定音色时使用会话的音色设置。
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.synth == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}

	var req synthesizeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = h.resolveVoice(req.SessionID)
	}

	pcm := h.synth.GenerateSpeech(r.Context(), req.Text, voice)
	if len(pcm) == 0 {
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	audio := media.WAV(pcm, media.SpeechSampleRate)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("X-Voice", voice)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		glog.Warningf("[http] failed to write audio response: %v", err)
	}
}

// resolveVoice 会话覆盖音色优先，其次角色默认音色，最后是全局默认。
func (h *Handler) resolveVoice(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if h.chatSvc == nil || sessionID == "" {
		return ""
	}

	session, err := h.chatSvc.Get(sessionID)
	if err != nil {
		return ""
	}

	personaVoice := ""
	if h.personaStore != nil {
		if p, ok := h.personaStore.FindByID(session.PersonaID); ok {
			personaVoice = p.VoiceID
		}
	}
	return session.Voice(personaVoice)
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.recognizer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech recognition unavailable")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	if len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = media.DefaultLanguage
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = inferAudioMIME(header.Filename)
	}

	text, err := h.recognizer.Recognize(r.Context(), audio, mimeType, language)
	switch {
	case errors.Is(err, media.ErrNoSpeech):
		utils.RespondJSON(w, http.StatusOK, map[string]string{"text": "", "language": language})
		return
	case err != nil:
		glog.Errorf("[speech] recognition failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text, "language": language})
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"service":    "speech",
		"synthesize": h.synth != nil,
		"transcribe": h.recognizer != nil,
	})
}

// inferAudioMIME 从文件名推断音频类型
func inferAudioMIME(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mp3"
	case ".webm":
		return "audio/webm"
	case ".ogg":
		return "audio/ogg"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
