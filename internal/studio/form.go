package studio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/tts"
)

const DefaultText = "Drop your script here. I can preview with browser voices and generate a high-quality MP3 for download."

// Result is the most recent generated audio.
type Result struct {
	URL       string    `json:"url"`
	Summary   string    `json:"summary"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// State is a point-in-time copy of the form.
type State struct {
	Text         string   `json:"text"`
	Voice        string   `json:"voice"`
	Speed        float64  `json:"speed"`
	Pitch        float64  `json:"pitch"`
	PreviewVoice string   `json:"preview_voice"`
	Voices       []Voice  `json:"voices"`
	StudioVoices []string `json:"studio_voices"`
	Connected    bool     `json:"connected"`
	Speaking     bool     `json:"speaking"`
	Generating   bool     `json:"generating"`
	Message      string   `json:"message"`
	Result       *Result  `json:"result,omitempty"`
}

type Deps struct {
	Credentials CredentialStore
	Speaker     Speaker
	Generator   Generator
	Audio       AudioStore
	Logger      *logger.Log
	Now         func() time.Time
	// OnChange receives a snapshot after every transition. It is called
	// without any form lock held.
	OnChange func(State)
}

// Form holds the credential, text and voice settings of one studio, and runs
// previews and generations against its ports.
type Form struct {
	credentials CredentialStore
	speaker     Speaker
	generator   Generator
	audio       AudioStore
	logger      *logger.Log
	now         func() time.Time
	onChange    func(State)

	mu           sync.Mutex
	text         string
	voice        string
	speed        float64
	pitch        float64
	previewVoice string
	voices       []Voice
	connected    bool
	speaking     bool
	generating   bool
	message      string
	result       *Result
	revision     uint64
	// inFlight covers the whole Generate call; generating only the request.
	inFlight bool
	closed   bool

	// previewSeq identifies the live preview and is guarded by mu.
	previewSeq uint64

	// previewMu orders Cancel/Speak pairs.
	previewMu sync.Mutex
}

func NewForm(ctx context.Context, deps Deps) (*Form, error) {
	if deps.Credentials == nil || deps.Speaker == nil || deps.Generator == nil || deps.Audio == nil {
		return nil, errors.New("studio: credentials, speaker, generator and audio are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	stored, err := deps.Credentials.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	f := &Form{
		credentials: deps.Credentials,
		speaker:     deps.Speaker,
		generator:   deps.Generator,
		audio:       deps.Audio,
		logger:      deps.Logger.Named("studio"),
		now:         deps.Now,
		onChange:    deps.OnChange,

		text:      DefaultText,
		voice:     tts.DefaultVoice,
		speed:     tts.DefaultSpeed,
		pitch:     1,
		connected: strings.TrimSpace(stored) != "",
	}

	f.voices = f.speaker.Voices()
	if len(f.voices) > 0 {
		f.previewVoice = f.voices[0].Name
	}

	if n, ok := f.speaker.(VoiceNotifier); ok {
		n.OnVoicesChanged(f.RefreshVoices)
	}

	return f, nil
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

func (f *Form) snapshot() State {
	s := State{
		Text:         f.text,
		Voice:        f.voice,
		Speed:        f.speed,
		Pitch:        f.pitch,
		PreviewVoice: f.previewVoice,
		Voices:       slices.Clone(f.voices),
		StudioVoices: slices.Clone(tts.Voices),
		Connected:    f.connected,
		Speaking:     f.speaking,
		Generating:   f.generating,
		Message:      f.message,
	}
	if f.result != nil {
		r := *f.result
		s.Result = &r
	}
	return s
}

func (f *Form) changed() {
	if f.onChange != nil {
		f.onChange(f.State())
	}
}

// SetCredential stores the trimmed key. The value is never format-checked.
func (f *Form) SetCredential(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		f.setMessage(string(ErrCredentialRequired))
		return ErrCredentialRequired
	}

	if err := f.credentials.Save(ctx, value); err != nil {
		f.logger.WithError(err).Error("failed to save credential")
		f.setMessage(string(ErrUnexpected))
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}

	f.mu.Lock()
	f.connected = true
	f.message = ""
	f.mu.Unlock()
	f.changed()

	f.logger.Info("credential saved")
	return nil
}

// ClearCredential forgets the key. Audio already generated stays available.
func (f *Form) ClearCredential(ctx context.Context) error {
	if err := f.credentials.Clear(ctx); err != nil {
		f.logger.WithError(err).Error("failed to clear credential")
		f.setMessage(string(ErrUnexpected))
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}

	f.mu.Lock()
	f.connected = false
	f.message = ""
	f.mu.Unlock()
	f.changed()

	f.logger.Info("credential cleared")
	return nil
}

// SyncCredential re-reads the store, for stores that can change outside the
// form such as a browser cookie.
func (f *Form) SyncCredential(ctx context.Context) error {
	stored, err := f.credentials.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}
	connected := strings.TrimSpace(stored) != ""

	f.mu.Lock()
	changed := f.connected != connected
	f.connected = connected
	f.mu.Unlock()

	if changed {
		f.changed()
	}
	return nil
}

func (f *Form) SetText(text string) {
	f.mu.Lock()
	f.setTextLocked(text)
	f.mu.Unlock()
	f.changed()
}

func (f *Form) SetVoice(voice string) {
	f.mu.Lock()
	f.setVoiceLocked(voice)
	f.mu.Unlock()
	f.changed()
}

// SetSpeed sets the shared rate used both for previews and generation.
func (f *Form) SetSpeed(speed float64) {
	f.mu.Lock()
	f.setSpeedLocked(speed)
	f.mu.Unlock()
	f.changed()
}

func (f *Form) SetPitch(pitch float64) {
	f.mu.Lock()
	f.pitch = tts.ClampSpeed(pitch)
	f.mu.Unlock()
	f.changed()
}

func (f *Form) SetPreviewVoice(name string) {
	f.mu.Lock()
	f.previewVoice = name
	f.mu.Unlock()
	f.changed()
}

func (f *Form) setTextLocked(text string) {
	if text == f.text {
		return
	}
	f.text = text
	f.invalidateLocked()
}

func (f *Form) setVoiceLocked(voice string) {
	voice = tts.ResolveVoice(voice)
	if voice == f.voice {
		return
	}
	f.voice = voice
	f.invalidateLocked()
}

func (f *Form) setSpeedLocked(speed float64) {
	speed = tts.ClampSpeed(speed)
	if speed == f.speed {
		return
	}
	f.speed = speed
	f.invalidateLocked()
}

// invalidateLocked drops the result that no longer matches the settings.
func (f *Form) invalidateLocked() {
	f.revision++
	f.releaseLocked()
}

func (f *Form) releaseLocked() {
	if f.result == nil {
		return
	}
	if err := f.audio.Release(f.result.URL); err != nil {
		f.logger.WithError(err).Warn("failed to release audio", zap.String("url", f.result.URL))
	}
	f.result = nil
}

func (f *Form) setMessage(msg string) {
	f.mu.Lock()
	f.message = msg
	f.mu.Unlock()
	f.changed()
}

// RefreshVoices re-reads the platform voices.
func (f *Form) RefreshVoices() {
	voices := f.speaker.Voices()

	f.mu.Lock()
	f.voices = voices
	if f.previewVoice == "" && len(voices) > 0 {
		f.previewVoice = voices[0].Name
	}
	f.mu.Unlock()
	f.changed()
}

// Preview speaks text through the local platform, replacing any preview
// already playing. Only the empty-text check produces a message.
func (f *Form) Preview(text, voiceName string, rate, pitch float64) error {
	f.mu.Lock()
	f.setTextLocked(text)
	f.setSpeedLocked(rate)
	f.pitch = tts.ClampSpeed(pitch)
	f.previewVoice = voiceName

	if strings.TrimSpace(f.text) == "" {
		f.message = string(ErrPreviewTextRequired)
		f.mu.Unlock()
		f.changed()
		return ErrPreviewTextRequired
	}

	utt := Utterance{
		Text:  f.text,
		Rate:  f.speed,
		Pitch: f.pitch,
	}
	if slices.ContainsFunc(f.voices, func(v Voice) bool { return v.Name == voiceName }) {
		utt.Voice = voiceName
	}
	f.message = ""
	f.mu.Unlock()

	f.previewMu.Lock()
	defer f.previewMu.Unlock()

	f.speaker.Cancel()

	f.mu.Lock()
	f.previewSeq++
	seq := f.previewSeq
	f.speaking = true
	f.mu.Unlock()
	f.changed()

	err := f.speaker.Speak(utt, func(err error) {
		if err != nil {
			f.logger.WithError(err).Debug("preview ended with error")
		}
		f.previewDone(seq)
	})
	if err != nil {
		f.logger.WithError(err).Warn("preview unavailable")
		f.mu.Lock()
		if f.previewSeq == seq {
			f.speaking = false
		}
		f.mu.Unlock()
		f.changed()
		return fmt.Errorf("preview failed: %w", err)
	}

	return nil
}

func (f *Form) previewDone(seq uint64) {
	f.mu.Lock()
	if f.previewSeq != seq || !f.speaking {
		f.mu.Unlock()
		return
	}
	f.speaking = false
	f.mu.Unlock()
	f.changed()
}

// Stop cancels any preview. It is safe to call when nothing is playing.
func (f *Form) Stop() {
	f.previewMu.Lock()
	f.speaker.Cancel()
	f.mu.Lock()
	f.previewSeq++
	f.speaking = false
	f.mu.Unlock()
	f.previewMu.Unlock()
	f.changed()
}

// Generate asks the proxy for an MP3 of text and replaces the active result.
func (f *Form) Generate(ctx context.Context, text, voice string, speed float64) (*Result, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.setTextLocked(text)
	f.setVoiceLocked(voice)
	f.setSpeedLocked(speed)

	if f.inFlight {
		f.mu.Unlock()
		f.changed()
		return nil, ErrGenerationInFlight
	}

	input := strings.TrimSpace(f.text)
	if input == "" {
		f.message = string(ErrGenerateTextRequired)
		f.mu.Unlock()
		f.changed()
		return nil, ErrGenerateTextRequired
	}

	req := tts.Request{Text: input, Voice: f.voice, Speed: f.speed}
	rev := f.revision
	f.inFlight = true
	f.mu.Unlock()

	credential, err := f.loadCredential(ctx)

	f.mu.Lock()
	if err == nil && credential == "" {
		f.connected = false
		err = ErrNotConnected
	}
	if err != nil {
		f.inFlight = false
		f.message = MessageOf(err)
		f.mu.Unlock()
		f.changed()
		return nil, err
	}
	f.connected = true
	f.generating = true
	f.message = ""
	f.mu.Unlock()
	f.changed()

	data, err := f.request(ctx, credential, req)

	f.mu.Lock()
	f.inFlight = false
	f.generating = false
	if f.closed {
		f.mu.Unlock()
		f.logger.Debug("studio closed during generation, audio dropped")
		return nil, ErrClosed
	}
	if err != nil {
		f.message = MessageOf(err)
		f.mu.Unlock()
		f.changed()
		return nil, err
	}

	if f.revision != rev {
		f.message = string(ErrSettingsChanged)
		f.mu.Unlock()
		f.changed()
		return nil, ErrSettingsChanged
	}

	f.releaseLocked()
	url, err := f.audio.Create(data)
	if err != nil {
		f.logger.WithError(err).Error("failed to store audio")
		f.message = string(ErrUnexpected)
		f.mu.Unlock()
		f.changed()
		return nil, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}

	now := f.now()
	f.result = &Result{
		URL:       url,
		Summary:   fmt.Sprintf("Voice: %s, speed: %.2fx", req.Voice, req.Speed),
		FileName:  fmt.Sprintf("voiceforge-%d.mp3", now.UnixMilli()),
		CreatedAt: now,
	}
	result := *f.result
	f.mu.Unlock()
	f.changed()

	f.logger.Info("audio generated",
		zap.String("voice", req.Voice),
		zap.Float64("speed", req.Speed),
		zap.Int("bytes", len(data)))

	return &result, nil
}

// loadCredential reads the trimmed key without the form lock.
func (f *Form) loadCredential(ctx context.Context) (string, error) {
	credential, err := f.credentials.Load(ctx)
	if err != nil {
		f.logger.WithError(err).Error("failed to load credential")
		return "", fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	return strings.TrimSpace(credential), nil
}

// request calls the generator. It runs without the form lock.
func (f *Form) request(ctx context.Context, credential string, req tts.Request) ([]byte, error) {
	data, err := f.generator.Generate(ctx, credential, req)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			f.logger.Warn("proxy rejected generation",
				zap.Int("status", remote.StatusCode),
				zap.String("message", remote.Message))
			return nil, err
		}
		f.logger.WithError(err).Error("generation failed")
		return nil, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	return data, nil
}

// Close stops any preview and releases the active audio. A generation still
// in flight finishes without storing its audio.
func (f *Form) Close() {
	f.previewMu.Lock()
	f.speaker.Cancel()
	f.previewMu.Unlock()

	f.mu.Lock()
	f.closed = true
	f.previewSeq++
	f.speaking = false
	f.releaseLocked()
	f.mu.Unlock()
}
