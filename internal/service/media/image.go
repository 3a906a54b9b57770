package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"google.golang.org/genai"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
	"github.com/zhouzirui/doki/backend/internal/service/gemini"
)

const (
	imageStyle         = "Anime style illustration of %s, high quality, detailed, soft lighting"
	intimateImageStyle = "Anime style illustration of %s, romantic and intimate atmosphere, character blushing, soft bedroom lighting, very detailed, aesthetic"
	imageAspectRatio   = "1:1"
	sceneContextRunes  = 100
)

// ImageRequester 根据提示词生成图片
type ImageRequester struct {
	models gemini.Models
	model  string
}

// NewImageRequester 创建图片生成器
func NewImageRequester(models gemini.Models, model string) *ImageRequester {
	return &ImageRequester{models: models, model: model}
}

// StylePrompt 给主体加上固定的插画风格前缀
func StylePrompt(subject string, intimacy bool) string {
	if intimacy {
		return fmt.Sprintf(intimateImageStyle, subject)
	}
	return fmt.Sprintf(imageStyle, subject)
}

// GenerateImage 返回 data URL，模型未返回图片或失败时返回空串，不重试
func (r *ImageRequester) GenerateImage(ctx context.Context, prompt string, intimacy bool) string {
	resp, err := r.models.GenerateContent(ctx, r.model, genai.Text(StylePrompt(prompt, intimacy)), &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: imageAspectRatio},
	})
	if err != nil {
		glog.Errorf("[media] image generation failed: %v", err)
		return ""
	}

	blob, ok := gemini.InlineData(resp)
	if !ok {
		glog.Warningf("[media] image model returned no inline data")
		return ""
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data)
}

// ScenePrompt 结合当前对话描述角色所处场景
func ScenePrompt(p persona.Persona, session chat.Session) string {
	context := ""
	if last, ok := session.LastMessage(); ok {
		context = truncateRunes(last.Content, sceneContextRunes)
	}
	return fmt.Sprintf("A situational scene involving %s, %s. Current conversation context: %s", p.Name, p.Tagline, context)
}

// ImageCaption 图片消息的配文
func ImageCaption(p persona.Persona, intimacy bool) string {
	if intimacy {
		return p.Name + " đã gửi một bức ảnh thật tình tứ..."
	}
	return p.Name + " đã gửi một bức ảnh!"
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
