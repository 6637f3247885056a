package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/roastboard/internal/boothsim"
	"github.com/okian/roastboard/pkg/logger"
)

// Default configuration constants.
const (
	defaultParticipants = 50
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 2 * time.Minute
	defaultSettle       = 30 * time.Second
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		participants = flag.Int("participants", defaultParticipants, "Number of participants to simulate")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent participants")
		limit        = flag.Int("limit", 0, "Leaderboard limit to request")
		format       = flag.String("format", "wav", "Audio format to declare")
		auto         = flag.Bool("auto", false, "Wait for server-side auto processing instead of calling /process")
		settle       = flag.Duration("settle", defaultSettle, "How long to wait for auto processing")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose      = flag.Bool("verbose", false, "Log every participant")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		boothsim.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	_, err := boothsim.Run(ctx, &boothsim.Config{
		BaseURL:      *baseURL,
		Participants: *participants,
		Workers:      *workers,
		Timeout:      *timeout,
		Limit:        *limit,
		Format:       *format,
		SkipProcess:  *auto,
		SettleWait:   *settle,
		Verbose:      *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
