package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	callHandler "github.com/zhouzirui/doki/backend/internal/handler/call"
	"github.com/zhouzirui/doki/backend/internal/handler/chat"
	"github.com/zhouzirui/doki/backend/internal/handler/persona"
	"github.com/zhouzirui/doki/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/doki/backend/internal/middleware"
	personaModel "github.com/zhouzirui/doki/backend/internal/model/persona"
	callService "github.com/zhouzirui/doki/backend/internal/service/call"
	chatService "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/service/media"
	"github.com/zhouzirui/doki/backend/pkg/utils"
)

// Services 汇总路由依赖。可选能力为 nil 时对应接口返回 503。
type Services struct {
	Personas personaModel.Store
	Chat     *chatService.Service

	Replier    chat.Replier
	Images     chat.ImageGenerator
	Speech     speech.Synthesizer
	Recognizer media.SpeechRecognizer

	Live        callService.Connector
	Credentials *callService.KeyCredentials
	Call        callService.Config

	TaskTimeout time.Duration
	CORS        bool
}

// Router 是 API 的 HTTP 入口。
type Router struct {
	http.Handler
	chat *chat.Handler
}

// Wait 等待后台任务结束，在服务关闭时调用。
func (r *Router) Wait() {
	r.chat.Wait()
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svcs Services) *Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if svcs.CORS {
		r.Use(middlewarePkg.CORS)
	}

	personaHandler := persona.New(svcs.Personas)
	chatHandler := chat.New(svcs.Chat, svcs.Personas, svcs.Replier, svcs.Images, svcs.TaskTimeout)
	speechHandler := speech.New(svcs.Speech, svcs.Recognizer, svcs.Chat, svcs.Personas)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)

		if svcs.Live != nil && svcs.Credentials != nil {
			callHandler.New(svcs.Chat, svcs.Personas, svcs.Live, svcs.Credentials, svcs.Call).RegisterRoutes(api)
		} else {
			api.Get("/call/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "realtime call not available")
			})
		}
	})

	return &Router{Handler: r, chat: chatHandler}
}
