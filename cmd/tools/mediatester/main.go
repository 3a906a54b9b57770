// mediatester 在命令行里直接调用文本、图片与语音模型，便于排查线上问题。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/zhouzirui/doki/backend/internal/config"
	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
	"github.com/zhouzirui/doki/backend/internal/service/ai"
	"github.com/zhouzirui/doki/backend/internal/service/media"
)

var (
	cfg     *config.Config
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "mediatester",
	Short: "手动测试 Doki 的模型调用",
	Example: `  $ mediatester chat --persona anton "hi"
  $ mediatester tts --text "xin chào" --voice Kore --play
  $ mediatester transcribe --audio sample.webm --lang vi-VN`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			glog.Warningf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
		}
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("配置加载失败: %w", err)
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func main() {
	_ = flag.Set("logtostderr", "true")
	defer glog.Flush()

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "请求超时时间")
	rootCmd.AddCommand(newChatCmd(), newImageCmd(), newTTSCmd(), newTranscribeCmd())

	if err := rootCmd.Execute(); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func newGeminiClient(ctx context.Context) (*genai.Client, error) {
	if !cfg.Gemini.Enabled() {
		return nil, errors.New("GEMINI_API_KEY 未配置")
	}
	return cfg.Gemini.NewClient(ctx)
}

func findPersona(id string) (persona.Persona, error) {
	items := persona.Seed()
	if cfg.Catalog.Path != "" {
		loaded, err := persona.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			return persona.Persona{}, err
		}
		items = loaded
	}
	p, ok := persona.NewMemoryStore(items).FindByID(id)
	if !ok {
		return persona.Persona{}, fmt.Errorf("persona %q not found", id)
	}
	return p, nil
}

func newChatCmd() *cobra.Command {
	var personaID string
	var intimacy bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "向角色发送一条消息并打印回复",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p, err := findPersona(personaID)
			if err != nil {
				return err
			}

			var gen ai.Generator
			switch cfg.Chat.Provider {
			case config.ProviderArk:
				chatModel, err := cfg.Ark.NewChatModel(ctx)
				if err != nil {
					return err
				}
				if gen, err = ai.NewChainGenerator(ctx, chatModel); err != nil {
					return err
				}
			default:
				client, err := newGeminiClient(ctx)
				if err != nil {
					return err
				}
				gen = ai.NewGeminiGenerator(client.Models, cfg.Gemini.ChatModel)
			}

			svc := ai.NewService(gen, ai.Sampling{
				Temperature: cfg.Chat.Temperature,
				TopP:        cfg.Chat.TopP,
				MaxTokens:   cfg.Chat.MaxTokens,
			})
			history := []chat.Message{{
				ID:        "manual",
				Role:      chat.RoleUser,
				Content:   strings.Join(args, " "),
				CreatedAt: time.Now(),
			}}
			fmt.Println(svc.GetReply(ctx, p, history, intimacy))
			return nil
		},
	}
	cmd.Flags().StringVar(&personaID, "persona", "anton", "角色 ID")
	cmd.Flags().BoolVar(&intimacy, "intimacy", false, "开启亲密模式")
	return cmd
}

func newImageCmd() *cobra.Command {
	var personaID, out string
	var intimacy bool

	cmd := &cobra.Command{
		Use:   "image",
		Short: "生成一张角色插画",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p, err := findPersona(personaID)
			if err != nil {
				return err
			}
			client, err := newGeminiClient(ctx)
			if err != nil {
				return err
			}

			prompt := media.ScenePrompt(p, chat.Session{PersonaID: p.ID, IntimacyMode: intimacy})
			dataURL := media.NewImageRequester(client.Models, cfg.Gemini.ImageModel).GenerateImage(ctx, prompt, intimacy)
			if dataURL == "" {
				return errors.New("模型没有返回图片")
			}
			if out == "" {
				fmt.Println(dataURL)
				return nil
			}
			return writeDataURL(out, dataURL)
		},
	}
	cmd.Flags().StringVar(&personaID, "persona", "anton", "角色 ID")
	cmd.Flags().StringVar(&out, "out", "", "输出图片路径，留空则打印 data URL")
	cmd.Flags().BoolVar(&intimacy, "intimacy", false, "开启亲密模式")
	return cmd
}

func newTTSCmd() *cobra.Command {
	var text, voice, out string
	var play bool

	cmd := &cobra.Command{
		Use:   "tts",
		Short: "合成语音并保存为 WAV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(text) == "" {
				return errors.New("请通过 --text 指定合成文本")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := newGeminiClient(ctx)
			if err != nil {
				return err
			}
			pcm := media.NewSpeechRequester(client.Models, cfg.Gemini.SpeechModel).GenerateSpeech(ctx, text, voice)
			if len(pcm) == 0 {
				return errors.New("模型没有返回音频")
			}

			if out == "" {
				out = fmt.Sprintf("tts-%d.wav", time.Now().Unix())
			}
			if err := os.WriteFile(out, media.WAV(pcm, media.SpeechSampleRate), 0o644); err != nil {
				return fmt.Errorf("写入音频失败: %w", err)
			}
			glog.Infof("音频已保存: %s (%d bytes PCM)", out, len(pcm))

			if play {
				return playPCM(pcm, media.SpeechSampleRate)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "合成文本")
	cmd.Flags().StringVar(&voice, "voice", chat.DefaultVoice, "预置音色")
	cmd.Flags().StringVar(&out, "out", "", "输出 WAV 路径")
	cmd.Flags().BoolVar(&play, "play", false, "合成后直接播放")
	return cmd
}

func newTranscribeCmd() *cobra.Command {
	var audioPath, mimeType, language string

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "识别一段录音",
		RunE: func(cmd *cobra.Command, args []string) error {
			if audioPath == "" {
				return errors.New("请通过 --audio 指定音频文件")
			}
			data, err := os.ReadFile(audioPath)
			if err != nil {
				return fmt.Errorf("读取音频失败: %w", err)
			}
			if mimeType == "" {
				mimeType = guessAudioMIME(audioPath, data)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := newGeminiClient(ctx)
			if err != nil {
				return err
			}
			text, err := media.NewGeminiRecognizer(client.Models, cfg.Gemini.TranscribeModel).Recognize(ctx, data, mimeType, language)
			if errors.Is(err, media.ErrNoSpeech) {
				fmt.Println("(no speech)")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&audioPath, "audio", "", "音频文件路径")
	cmd.Flags().StringVar(&mimeType, "mime", "", "音频 MIME 类型，默认按扩展名推断")
	cmd.Flags().StringVar(&language, "lang", media.DefaultLanguage, "语言代码")
	return cmd
}

func guessAudioMIME(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mp3"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	}
	return http.DetectContentType(data)
}
