package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/golang/glog"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
)

// FallbackReply is shown when the model answers with nothing.
const FallbackReply = "I'm so confused, I don't know what to say..."

// ErrUnavailable is reported when no text backend is configured.
var ErrUnavailable = errors.New("text generation unavailable")

// Service is the chat orchestrator. It never returns an error: failures become
// a visible reply so the conversation always gets an answer.
type Service struct {
	gen      Generator
	sampling Sampling
}

// NewService wraps a generator with the fixed sampling parameters. gen may be nil.
func NewService(gen Generator, sampling Sampling) *Service {
	return &Service{gen: gen, sampling: sampling}
}

// Available reports whether a backend is wired.
func (s *Service) Available() bool {
	return s != nil && s.gen != nil
}

// GetReply asks the model for the persona's next message. It does not touch the session;
// the caller appends the result.
func (s *Service) GetReply(ctx context.Context, p persona.Persona, history []chat.Message, intimacy bool) string {
	if !s.Available() {
		glog.Warningf("[ai] reply requested for persona=%s without a text backend", p.ID)
		return "Error: " + ErrUnavailable.Error()
	}

	req := Request{
		SystemInstruction: BuildSystemInstruction(p, history, intimacy),
		History:           history,
		Sampling:          s.sampling,
	}

	text, err := s.gen.Generate(ctx, req)
	if err != nil {
		glog.Errorf("[ai] generate failed persona=%s: %v", p.ID, err)
		return "Error: " + err.Error()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		glog.Warningf("[ai] empty reply persona=%s history=%d", p.ID, len(history))
		return FallbackReply
	}

	glog.Infof("[ai] generated reply persona=%s intimacy=%t length=%d", p.ID, intimacy, len(text))
	return text
}
