// Package boothsim drives a running booth through the full participant flow
// and checks the resulting leaderboard.
package boothsim

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Participants int           // Number of participants to simulate
	Workers      int           // Number of concurrent participants
	Timeout      time.Duration // HTTP request timeout
	Limit        int           // Leaderboard limit to request; zero uses the server default
	Format       string        // Audio format every participant declares
	SkipProcess  bool          // Rely on server-side auto processing instead of POST /process
	SettleWait   time.Duration // How long to wait for auto processing to finish
	Verbose      bool          // Enable verbose logging
}

// Participant is one simulated booth visitor.
type Participant struct {
	Name   string
	Format string
	Audio  []byte
}

// Result is what one participant observed.
type Result struct {
	Participant   Participant
	ResponseID    string
	Score         int
	Roast         string
	PrizeEligible bool
	Err           error
}

// Entry is one row of the leaderboard payload.
type Entry struct {
	Rank          int    `json:"rank"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Roast         string `json:"roast"`
	Timestamp     string `json:"timestamp"`
	PrizeEligible bool   `json:"prizeEligible"`
}

// Leaderboard is the GET /leaderboard payload.
type Leaderboard struct {
	Leaderboard       []Entry `json:"leaderboard"`
	Top3              []Entry `json:"top3"`
	TotalParticipants int     `json:"totalParticipants"`
	AverageScore      int     `json:"averageScore"`
	SessionDate       string  `json:"sessionDate"`
	LastUpdated       string  `json:"lastUpdated"`
}

// Stats holds run statistics.
type Stats struct {
	Participants  int
	Submitted     int
	Uploaded      int
	Scored        int
	Failed        int
	PrizeEligible int
	BoardEntries  int
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

const (
	defaultFormat     = "wav"
	defaultSettleWait = 30 * time.Second
	pollInterval      = 250 * time.Millisecond
)

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Participants < 1 {
		cfg.Participants = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > cfg.Participants {
		cfg.Workers = cfg.Participants
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = defaultSettleWait
	}
	return cfg
}
