package media

import (
	"context"
	"strings"

	"github.com/golang/glog"
	"google.golang.org/genai"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/service/gemini"
)

// SpeechSampleRate TTS 返回的 PCM 采样率（单声道 16 位小端）
const SpeechSampleRate = 24000

// SpeechRequester 单次请求合成整段语音
type SpeechRequester struct {
	models gemini.Models
	model  string
}

// NewSpeechRequester 创建语音合成器
func NewSpeechRequester(models gemini.Models, model string) *SpeechRequester {
	return &SpeechRequester{models: models, model: model}
}

// GenerateSpeech 返回原始 PCM，失败或无输出时返回 nil
func (r *SpeechRequester) GenerateSpeech(ctx context.Context, text, voice string) []byte {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if voice == "" {
		voice = chat.DefaultVoice
	}

	resp, err := r.models.GenerateContent(ctx, r.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	})
	if err != nil {
		glog.Errorf("[media] speech synthesis failed voice=%s: %v", voice, err)
		return nil
	}

	blob, ok := gemini.InlineData(resp)
	if !ok {
		glog.Warningf("[media] speech model returned no audio voice=%s", voice)
		return nil
	}
	glog.Infof("[media] synthesized %d bytes voice=%s", len(blob.Data), voice)
	return blob.Data
}
