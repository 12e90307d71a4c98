package speech

import (
	"errors"

	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/studio"
)

var ErrUnavailable = errors.New("no speech engine available; install say, espeak-ng or espeak")

// Silent is the speaker used when no engine is installed.
type Silent struct {
	logger *logger.Log
}

func NewSilent(log *logger.Log) *Silent {
	if log == nil {
		log = logger.New()
	}
	return &Silent{logger: log.Named("speech")}
}

func (s *Silent) Voices() []studio.Voice {
	return nil
}

func (s *Silent) Speak(studio.Utterance, func(error)) error {
	s.logger.Debug("no speech engine configured. ignoring preview request")
	return ErrUnavailable
}

func (s *Silent) Cancel() {}
