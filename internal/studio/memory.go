package studio

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryCredentials keeps the key for the life of the process.
type MemoryCredentials struct {
	mu    sync.Mutex
	value string
}

func NewMemoryCredentials(initial string) *MemoryCredentials {
	return &MemoryCredentials{value: initial}
}

func (m *MemoryCredentials) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

func (m *MemoryCredentials) Save(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	return nil
}

func (m *MemoryCredentials) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = ""
	return nil
}

var ErrAudioNotFound = errors.New("audio not found")

// MemoryAudio holds generated clips in memory, addressed as prefix+uuid.
type MemoryAudio struct {
	prefix string

	mu    sync.RWMutex
	clips map[string][]byte
}

func NewMemoryAudio(prefix string) *MemoryAudio {
	return &MemoryAudio{
		prefix: prefix,
		clips:  make(map[string][]byte),
	}
}

func (m *MemoryAudio) Create(data []byte) (string, error) {
	id := uuid.NewString()

	m.mu.Lock()
	m.clips[id] = data
	m.mu.Unlock()

	return m.prefix + id, nil
}

func (m *MemoryAudio) Release(url string) error {
	id, ok := strings.CutPrefix(url, m.prefix)
	if !ok {
		return ErrAudioNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clips[id]; !exists {
		return ErrAudioNotFound
	}
	delete(m.clips, id)
	return nil
}

// Open returns the clip behind url.
func (m *MemoryAudio) Open(url string) ([]byte, error) {
	id, ok := strings.CutPrefix(url, m.prefix)
	if !ok {
		return nil, ErrAudioNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, exists := m.clips[id]
	if !exists {
		return nil, ErrAudioNotFound
	}
	return data, nil
}

func (m *MemoryAudio) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clips)
}
