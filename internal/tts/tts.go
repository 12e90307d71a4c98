package tts

import (
	"context"
	"io"
	"slices"
)

// Voices is the fixed set of studio voices the provider accepts.
var Voices = []string{
	"alloy",
	"ash",
	"ballad",
	"coral",
	"echo",
	"fable",
	"nova",
	"onyx",
	"sage",
	"shimmer",
	"verse",
}

const (
	DefaultVoice = "alloy"

	MinSpeed     = 0.5
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0
)

// Request is a single generation request.
type Request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// Audio is a synthesized payload still being read from the provider.
type Audio struct {
	Body        io.ReadCloser
	ContentType string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, credential string, req Request) (*Audio, error)
}

func IsVoice(voice string) bool {
	return slices.Contains(Voices, voice)
}

// ResolveVoice falls back to the default voice for anything outside the set.
func ResolveVoice(voice string) string {
	if IsVoice(voice) {
		return voice
	}
	return DefaultVoice
}

func ClampSpeed(speed float64) float64 {
	return min(MaxSpeed, max(MinSpeed, speed))
}
