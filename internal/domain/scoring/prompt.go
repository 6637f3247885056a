package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RubricPrompt is the system prompt given to the grading model.
const RubricPrompt = `You are evaluating a conference attendee's response to their boss asking "How was the conference? (that I paid for you to go to)".

Context: This is a fun, interactive booth experience designed to help attendees reflect on their conference value. The boss character is slightly skeptical but fair - they want ROI but appreciate genuine enthusiasm and concrete details.

The boss is evaluating whether to send this person to next year's conference based on:
- ROI & Business Value (30 pts): Concrete takeaways, business applications, quantifiable impact
- Professional Development (25 pts): Growth, career relevance, skills gained, implementation plans
- Networking & Connections (20 pts): Specific people/companies, opportunities, follow-up plans
- Concrete Details & Storytelling (15 pts): Specific sessions, clear narrative, energy
- Future Value & Next Steps (10 pts): Desire to return with reasoning, action items, long-term impact

Roast style examples:
- High scores (85+): "Your boss is already booking next year's ticket."
- Good scores (70-84): "Solid. Next time, bring actual business cards."
- Medium scores (50-69): "Your boss heard 'networking' as 'snack bar.'"
- Low scores (<50): "That's a lot of words for 'free coffee.'"

Provide:
1. A score from 0-100 (be fair but have standards - most responses should fall in 50-80 range)
2. A light roast in 10 words or less. Be witty and playful, not mean. Reference something specific from their response when possible. Think friendly colleague banter, not harsh criticism.

Format your response as JSON:
{
  "score": [number],
  "roast": "[text]"
}`

// UserPrompt wraps a transcript as the grading request.
func UserPrompt(transcript string) string {
	return `Response to evaluate: "` + transcript + `"`
}

// Grade is a raw grading result; Score is not yet clamped.
type Grade struct {
	Score float64
	Roast string
}

// ParseGrade decodes a grading model reply. A reply without a numeric score
// or a non-empty roast string is ErrMalformedGrade.
func ParseGrade(content string) (Grade, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Grade{}, fmt.Errorf("%w: %v", ErrMalformedGrade, err)
	}

	var g Grade
	score, ok := raw["score"]
	if !ok || string(score) == "null" || json.Unmarshal(score, &g.Score) != nil {
		return Grade{}, fmt.Errorf("%w: score must be a number", ErrMalformedGrade)
	}
	roast, ok := raw["roast"]
	if !ok || json.Unmarshal(roast, &g.Roast) != nil || strings.TrimSpace(g.Roast) == "" {
		return Grade{}, fmt.Errorf("%w: roast must be a non-empty string", ErrMalformedGrade)
	}
	return g, nil
}
