package mood

import (
	"strings"
	"unicode/utf8"
)

// Label 表示从用户最新一句话中读出的情绪。
type Label string

const (
	Neutral Label = "neutral"
	Sad     Label = "sad"
	Excited Label = "excited"
	Curious Label = "curious"
	Upset   Label = "upset"
)

// Reading 给出情绪识别结果以及得分。
type Reading struct {
	Mood  Label
	Score int
}

// 固定顺序，得分相同时取靠前者。
var order = []Label{Upset, Sad, Excited, Curious}

var keywordBuckets = map[Label][]string{
	Sad: {
		"buồn", "khóc", "cô đơn", "mệt mỏi", "chán", "thất vọng", "tổn thương", "nhớ nhà", "tủi thân", "áp lực",
		"sad", "cry", "lonely", "tired", "depressed", "hurt", "miss you", "down", "heartbroken",
	},
	Excited: {
		"vui quá", "tuyệt vời", "hào hứng", "phấn khích", "yay", "quá đỉnh", "đỉnh", "háo hức", "mong chờ", "sướng",
		"excited", "amazing", "awesome", "can't wait", "so happy", "wow", "yay", "hype",
	},
	Curious: {
		"tại sao", "vì sao", "thế nào", "như thế nào", "là gì", "có phải", "kể cho", "tò mò", "sao lại",
		"why", "how", "what is", "tell me", "curious", "wonder",
	},
	Upset: {
		"tức", "giận", "bực", "khó chịu", "ghét", "phiền", "điên", "cáu",
		"angry", "annoyed", "mad", "furious", "hate", "upset", "pissed",
	},
}

// Analyze 根据关键词与标点对文本打分。
func Analyze(text string) Reading {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Reading{Mood: Neutral}
	}

	scores := make(map[Label]int, len(order))
	for _, label := range order {
		for _, word := range keywordBuckets[label] {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 1 {
		scores[Excited] += exclamations
	}
	if strings.HasSuffix(normalized, "?") {
		scores[Curious] += 2
	}
	// 全大写的长句多半在发火。
	if utf8.RuneCountInString(text) > 8 && text == strings.ToUpper(text) && text != strings.ToLower(text) {
		scores[Upset] += 3
	}

	best := Neutral
	bestScore := 0
	for _, label := range order {
		if scores[label] > bestScore {
			best = label
			bestScore = scores[label]
		}
	}

	return Reading{Mood: best, Score: bestScore}
}

// Guidance 返回与情绪对应的回复方式。
func (l Label) Guidance() string {
	switch l {
	case Sad:
		return "the user sounds sad, so lead with comfort"
	case Excited:
		return "the user sounds excited, so match their enthusiasm"
	case Curious:
		return "the user sounds curious, so answer with patience"
	case Upset:
		return "the user sounds upset, so stay calm and steady"
	default:
		return ""
	}
}
