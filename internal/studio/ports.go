package studio

import (
	"context"

	"github.com/tahcohcat/voiceforge/internal/tts"
)

// CredentialStore persists the user's provider key between sessions.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, value string) error
	Clear(ctx context.Context) error
}

// Voice is a preview voice offered by the local speech platform.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance is one preview request. An empty Voice means the platform default.
type Utterance struct {
	Text  string
	Voice string
	Rate  float64
	Pitch float64
}

// Speaker is the local speech platform used for previews. done is invoked at
// most once, when the utterance finishes or fails; it may run on any goroutine.
type Speaker interface {
	Voices() []Voice
	Speak(u Utterance, done func(error)) error
	Cancel()
}

// VoiceNotifier is implemented by speakers whose voice list arrives late.
type VoiceNotifier interface {
	OnVoicesChanged(fn func())
}

// Generator turns text into MP3 bytes through the synthesis proxy.
type Generator interface {
	Generate(ctx context.Context, credential string, req tts.Request) ([]byte, error)
}

// AudioStore hands out a locator for generated audio until it is released.
type AudioStore interface {
	Create(data []byte) (string, error)
	Release(url string) error
}
