package live

import (
	"strings"

	"github.com/zhouzirui/doki/backend/internal/service/call"
)

// 客户端发送的消息。

type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *contentMessage  `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type contentMessage struct {
	Parts []partMessage `json:"parts"`
}

type partMessage struct {
	Text       string           `json:"text,omitempty"`
	InlineData *call.MediaChunk `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	MediaChunks []call.MediaChunk `json:"mediaChunks"`
}

// 服务端推送的消息。

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *contentMessage `json:"modelTurn,omitempty"`
	Interrupted  bool            `json:"interrupted,omitempty"`
	TurnComplete bool            `json:"turnComplete,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func newSetup(cfg call.LiveConfig) clientMessage {
	model := cfg.Model
	if model != "" && !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := &setupMessage{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &contentMessage{Parts: []partMessage{{Text: cfg.SystemInstruction}}}
	}
	return clientMessage{Setup: setup}
}
