package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/doki/backend/internal/config"
	"github.com/zhouzirui/doki/backend/internal/handler"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
	"github.com/zhouzirui/doki/backend/internal/service/ai"
	"github.com/zhouzirui/doki/backend/internal/service/call"
	"github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/service/live"
	"github.com/zhouzirui/doki/backend/internal/service/media"
	"github.com/zhouzirui/doki/backend/internal/storage"
)

func main() {
	_ = flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		glog.Warningf("failed to load .env file: %v", err)
		glog.Info("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		glog.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(loadPersonas(cfg.Catalog))

	kv, err := storage.NewFileKV(cfg.Store.Dir)
	if err != nil {
		glog.Fatalf("failed to open data directory: %v", err)
	}
	chatService, err := chat.NewService(storage.NewSessionStore(kv, cfg.Store.Key))
	if err != nil {
		glog.Fatalf("failed to load sessions: %v", err)
	}

	svcs := handler.Services{
		Personas:    personaStore,
		Chat:        chatService,
		TaskTimeout: cfg.Server.RequestTimeout,
		CORS:        cfg.Server.CORS,
	}

	var generator ai.Generator
	if cfg.Gemini.Enabled() {
		client, err := cfg.Gemini.NewClient(ctx)
		if err != nil {
			glog.Warningf("failed to initialize Gemini client: %v", err)
		} else {
			if cfg.Chat.Provider == config.ProviderGemini {
				generator = ai.NewGeminiGenerator(client.Models, cfg.Gemini.ChatModel)
			}
			svcs.Images = media.NewImageRequester(client.Models, cfg.Gemini.ImageModel)
			svcs.Speech = media.NewSpeechRequester(client.Models, cfg.Gemini.SpeechModel)
			svcs.Recognizer = media.NewGeminiRecognizer(client.Models, cfg.Gemini.TranscribeModel)
			glog.Info("Gemini services initialized successfully")
		}
	} else {
		glog.Info("Gemini API key 未配置，跳过图片与语音功能初始化")
	}

	if cfg.Chat.Provider == config.ProviderArk {
		generator = newArkGenerator(ctx, cfg.Ark)
	}

	aiService := ai.NewService(generator, ai.Sampling{
		Temperature: cfg.Chat.Temperature,
		TopP:        cfg.Chat.TopP,
		MaxTokens:   cfg.Chat.MaxTokens,
	})
	if !aiService.Available() {
		glog.Warning("continuing without text generation - replies will report the missing backend")
	}
	svcs.Replier = aiService

	// 浏览器可以在通话中提供自己的 key，因此即使没有配置也挂载通话路由。
	svcs.Live = live.NewClient(cfg.Gemini.LiveEndpoint, live.DefaultOptions())
	svcs.Credentials = call.NewKeyCredentials(cfg.Gemini.APIKey)
	svcs.Call = call.Config{
		Model:            cfg.Gemini.LiveModel,
		InputSampleRate:  cfg.Call.InputSampleRate,
		OutputSampleRate: cfg.Call.OutputSampleRate,
		OutputChannels:   cfg.Call.OutputChannels,
		FrameSize:        cfg.Call.FrameSize,
		VideoInterval:    cfg.Call.VideoInterval,
		VideoWidth:       cfg.Call.VideoWidth,
		VideoHeight:      cfg.Call.VideoHeight,
		JPEGQuality:      cfg.Call.JPEGQuality,
	}

	router := handler.NewRouter(svcs)

	startServer(ctx, cfg.Server, router)
	router.Wait()
}

func loadPersonas(cfg config.CatalogConfig) []persona.Persona {
	if cfg.Path == "" {
		return persona.Seed()
	}
	items, err := persona.LoadCatalog(cfg.Path)
	if err != nil {
		glog.Warningf("failed to load persona catalog %s: %v, using built-in roster", cfg.Path, err)
		return persona.Seed()
	}
	glog.Infof("loaded %d personas from %s", len(items), cfg.Path)
	return items
}

func newArkGenerator(ctx context.Context, cfg config.ArkConfig) ai.Generator {
	if !cfg.Enabled() {
		glog.Info("Ark 凭证未配置，跳过 Ark 模型初始化")
		return nil
	}
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		glog.Warningf("failed to initialize Ark model: %v", err)
		return nil
	}
	gen, err := ai.NewChainGenerator(ctx, chatModel)
	if err != nil {
		glog.Warningf("failed to compile Ark chain: %v", err)
		return nil
	}
	glog.Info("Ark text generation initialized successfully")
	return gen
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	glog.Infof("Doki backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		glog.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
