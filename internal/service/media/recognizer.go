package media

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/zhouzirui/doki/backend/internal/service/gemini"
)

// DefaultLanguage 未指定语言时使用的 BCP-47 标签
const DefaultLanguage = "vi-VN"

// ErrNoSpeech 没有识别到语音
var ErrNoSpeech = errors.New("no speech recognized")

// SpeechRecognizer 语音识别接口
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}

// GeminiRecognizer 使用 Gemini 多模态模型转写
type GeminiRecognizer struct {
	models gemini.Models
	model  string
}

// NewGeminiRecognizer 创建识别器
func NewGeminiRecognizer(models gemini.Models, model string) *GeminiRecognizer {
	return &GeminiRecognizer{models: models, model: model}
}

// Recognize implements SpeechRecognizer.
func (r *GeminiRecognizer) Recognize(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	if language == "" {
		language = DefaultLanguage
	}

	instruction := fmt.Sprintf("Transcribe this recording verbatim. The speaker uses language %s. "+
		"Return only the transcript, or nothing if there is no speech.", language)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(audio, mimeType),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}

	resp, err := r.models.GenerateContent(ctx, r.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text := gemini.Text(resp)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
