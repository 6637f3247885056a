package scoring

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/okian/roastboard/internal/domain/model"
)

// Default simulated model configuration.
const (
	defaultMinLatency = 50 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42
	baseScore         = 50
)

var sampleAnswers = []string{
	"The keynote on platform engineering gave us three ideas we can ship this quarter, and I met two vendors who can cut our build times.",
	"Honestly it was great, the coffee was amazing and I went to a few talks.",
	"I learned a lot about observability, met the team from a partner company, and I want to come back next year with a proposal.",
	"It was fine. Lots of booths. I got a t-shirt.",
	"The session on cost optimisation alone could save us real money, I already scheduled a follow-up call with the speaker.",
}

// rubric keywords and the points each contributes on first mention.
var rubricSignals = []struct {
	words  []string
	points float64
}{
	{[]string{"save", "roi", "money", "ship", "cost", "quarter"}, 15},
	{[]string{"learned", "skills", "career", "implement"}, 12},
	{[]string{"met", "partner", "vendor", "follow-up", "call"}, 10},
	{[]string{"keynote", "session", "talk", "speaker"}, 8},
	{[]string{"next year", "come back", "proposal", "plan"}, 6},
}

// SimulatedModel implements Transcriber and Grader without an external
// service. Output is deterministic for a given input; latency is randomized
// within the configured range to model a remote call.
type SimulatedModel struct {
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatedOption configures a SimulatedModel.
type SimulatedOption func(*SimulatedModel)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) SimulatedOption {
	return func(s *SimulatedModel) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// NewSimulatedModel creates a SimulatedModel.
func NewSimulatedModel(opts ...SimulatedOption) *SimulatedModel {
	s := &SimulatedModel{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible latency
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe picks a canned answer from the audio content.
func (s *SimulatedModel) Transcribe(ctx context.Context, audio []byte, format model.AudioFormat) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe %s: %w", format, ErrEmptyAudio)
	}
	h := fnv.New32a()
	_, _ = h.Write(audio)
	return sampleAnswers[h.Sum32()%uint32(len(sampleAnswers))], nil
}

// Grade scores transcript by the rubric signals it mentions.
func (s *SimulatedModel) Grade(ctx context.Context, transcript string) (Grade, error) {
	if err := s.wait(ctx); err != nil {
		return Grade{}, err
	}
	text := strings.ToLower(transcript)
	score := float64(baseScore)
	if strings.TrimSpace(text) == "" {
		score = 0
	}
	for _, sig := range rubricSignals {
		for _, w := range sig.words {
			if strings.Contains(text, w) {
				score += sig.points
				break
			}
		}
	}
	return Grade{Score: score, Roast: roastFor(model.ClampScore(score))}, nil
}

func roastFor(score int) string {
	switch {
	case score >= 85:
		return "Your boss is already booking next year's ticket."
	case score >= 70:
		return "Solid. Next time, bring actual business cards."
	case score >= 50:
		return "Your boss heard 'networking' as 'snack bar.'"
	default:
		return "That's a lot of words for 'free coffee.'"
	}
}

func (s *SimulatedModel) wait(ctx context.Context) error {
	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		s.mu.Lock()
		latency += time.Duration(s.rng.Int63n(int64(spread)))
		s.mu.Unlock()
	}
	if latency == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
