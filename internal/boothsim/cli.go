package boothsim

import "os"

// ShowHelp prints usage information for the booth simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Roastboard Booth Simulator
==========================

Runs concurrent participants through submit, upload and process against a
running roastboard service, then verifies the leaderboard.

Usage:
  go run ./cmd/booth-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -participants int
        Number of participants to simulate (default 50)
  -workers int
        Number of concurrent participants (default CPU cores * 2)
  -limit int
        Leaderboard limit to request (default: server default)
  -format string
        Audio format to declare: mp4, webm, wav, m4a, aac (default "wav")
  -auto
        Skip POST /process and wait for server-side auto processing
  -settle duration
        How long to wait for auto processing (default 30s)
  -timeout duration
        HTTP request timeout (default 2m)
  -verbose
        Log every participant
  -help
        Show this help message

Examples:
  # Simulate a busy booth
  go run ./cmd/booth-sim -participants 200 -workers 16

  # Exercise the background workers
  go run ./cmd/booth-sim -auto -settle 1m
`)
}
