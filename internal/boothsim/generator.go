package boothsim

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// Synthetic audio size range in bytes.
const (
	minAudioBytes = 2 << 10
	maxAudioBytes = 16 << 10
)

var firstNames = []string{"Ada", "Bo", "Cy", "Dee", "Eli", "Fay", "Gus", "Hana", "Ivo", "Jun"}

// randomInt returns a uniform value in [0, n) using crypto/rand.
func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// generateParticipants creates n participants with unique names and distinct audio.
func generateParticipants(n int, format string) []Participant {
	out := make([]Participant, n)
	for i := range out {
		suffix := uuid.NewString()[:8]
		out[i] = Participant{
			Name:   firstNames[i%len(firstNames)] + " " + suffix,
			Format: format,
			Audio:  syntheticAudio(minAudioBytes + randomInt(maxAudioBytes-minAudioBytes)),
		}
	}
	return out
}

// syntheticAudio returns size bytes that start like a RIFF/WAVE file and
// continue with random samples.
func syntheticAudio(size int) []byte {
	header := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	if size < len(header) {
		size = len(header)
	}
	buf := make([]byte, size)
	copy(buf, header)
	_, _ = rand.Read(buf[len(header):])
	return buf
}
