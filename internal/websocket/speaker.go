package websocket

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tahcohcat/voiceforge/internal/studio"
)

var (
	ErrNoBrowser = errors.New("no studio page is connected")
	ErrCanceled  = errors.New("utterance canceled")
)

// Speaker plays previews through the speech engine of the room's browser tabs.
type Speaker struct {
	hub  *Hub
	room string

	mu      sync.Mutex
	voices  []studio.Voice
	pending map[string]*utterance
	notify  func()
}

// utterance is a speak request waiting for its tab to report back.
type utterance struct {
	done   func(error)
	client *Client
}

func newSpeaker(h *Hub, room string) *Speaker {
	return &Speaker{
		hub:     h,
		room:    room,
		pending: make(map[string]*utterance),
	}
}

func (s *Speaker) Voices() []studio.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.voices)
}

func (s *Speaker) OnVoicesChanged(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// Speak hands the utterance to the newest tab of the room, so two open tabs
// never play the same preview.
func (s *Speaker) Speak(u studio.Utterance, done func(error)) error {
	id := uuid.NewString()
	pending := &utterance{done: done}

	s.mu.Lock()
	s.pending[id] = pending
	s.mu.Unlock()

	delivered := s.hub.sendOne(s.room, Message{
		Type:  TypeSpeak,
		ID:    id,
		Text:  u.Text,
		Voice: u.Voice,
		Rate:  u.Rate,
		Pitch: u.Pitch,
	}, func(c *Client) {
		s.mu.Lock()
		pending.client = c
		s.mu.Unlock()
	})
	if !delivered {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ErrNoBrowser
	}
	return nil
}

func (s *Speaker) Cancel() {
	s.hub.Send(s.room, Message{Type: TypeCancel})
	s.fail(ErrCanceled)
}

// fail completes every pending utterance with err.
func (s *Speaker) fail(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*utterance)
	s.mu.Unlock()

	for _, p := range pending {
		p.done(err)
	}
}

// failClient completes the utterances handed to c.
func (s *Speaker) failClient(c *Client, err error) {
	s.mu.Lock()
	var failed []*utterance
	for id, p := range s.pending {
		if p.client == c {
			failed = append(failed, p)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, p := range failed {
		p.done(err)
	}
}

func (s *Speaker) complete(id string, err error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if ok {
		p.done(err)
	}
}

func (s *Speaker) handle(msg Message) {
	switch msg.Type {
	case TypeVoices:
		s.mu.Lock()
		s.voices = slices.Clone(msg.Voices)
		notify := s.notify
		s.mu.Unlock()
		if notify != nil {
			notify()
		}

	case TypeEnded:
		s.complete(msg.ID, nil)

	case TypeError:
		reason := msg.Error
		if reason == "" {
			reason = "speech synthesis failed"
		}
		s.complete(msg.ID, errors.New(reason))
	}
}
