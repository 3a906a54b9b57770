package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/doki/backend/internal/analysis/mood"
	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
)

const moodPolicy = `IMPORTANT TASK:
1. Read the user's mood from their latest message.
2. Adapt your tone to it with care:
   - If the user is sad, lonely or tired: be gentle, comfort them and listen more.
   - If the user is excited or happy: be enthusiastic, use positive words and share the joy.
   - If the user is curious or wants to learn something: be patient, explain in depth and open new threads.
   - If the user is upset or irritated: stay calm, soothe them and try to understand the cause.
3. Always stay true to the core traits of %s.`

const intimacyPolicy = `SPECIAL: this is an intimate, private conversation. Be very charming, affectionate and romantic. ` +
	`Use sweet, suggestive language and do not hold back the character's deepest feelings.`

const callStyle = "Reply briefly and naturally, like a phone call."

// BuildSystemInstruction combines the persona prompt, the mood policy and the optional intimacy note.
func BuildSystemInstruction(p persona.Persona, history []chat.Message, intimacy bool) string {
	var b strings.Builder
	b.WriteString("Your identity: ")
	b.WriteString(strings.TrimSpace(p.PromptTemplate))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf(moodPolicy, p.Name))

	if hint := latestMoodHint(history); hint != "" {
		b.WriteString("\n\nSignal from the latest message: ")
		b.WriteString(hint)
		b.WriteString(".")
	}

	if intimacy {
		b.WriteString("\n\n")
		b.WriteString(intimacyPolicy)
	}
	return b.String()
}

// BuildCallInstruction creates the system instruction for a realtime call.
func BuildCallInstruction(p persona.Persona, intimacy bool) string {
	tone := "Keep the tone friendly and natural."
	if intimacy {
		tone = "Keep the tone intimate, tender and romantic."
	}

	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(p.Name)
	b.WriteString(". ")
	b.WriteString(strings.TrimSpace(p.Description))
	if prompt := strings.TrimSpace(p.PromptTemplate); prompt != "" {
		b.WriteString("\n")
		b.WriteString(prompt)
	}
	b.WriteString("\n")
	b.WriteString(tone)
	b.WriteString(" ")
	b.WriteString(callStyle)
	return b.String()
}

func latestMoodHint(history []chat.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != chat.RoleUser {
			continue
		}
		return mood.Analyze(history[i].Content).Mood.Guidance()
	}
	return ""
}
