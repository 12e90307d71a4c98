package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/internal/auth"
	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/metrics"
	"github.com/tahcohcat/voiceforge/internal/studio"
	"github.com/tahcohcat/voiceforge/internal/tts"
	"github.com/tahcohcat/voiceforge/internal/websocket"
)

const audioPrefix = "/studio/audio/"

type studioSession struct {
	form     *studio.Form
	lastSeen time.Time
}

// StudioHandler drives one Form per browser studio. The studio id comes from
// the session cookie; the credential stays in that cookie.
type StudioHandler struct {
	hub       *websocket.Hub
	generator studio.Generator
	audio     *studio.MemoryAudio
	templates *template.Template
	metrics   *metrics.Metrics
	logger    *logger.Log
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*studioSession
}

type StudioDeps struct {
	Hub       *websocket.Hub
	Generator studio.Generator
	Templates *template.Template
	Metrics   *metrics.Metrics
	Logger    *logger.Log
	Now       func() time.Time
}

func NewStudioHandler(deps StudioDeps) *StudioHandler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = logger.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &StudioHandler{
		hub:       deps.Hub,
		generator: deps.Generator,
		audio:     studio.NewMemoryAudio(audioPrefix),
		templates: deps.Templates,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("api.studio"),
		now:       deps.Now,
		sessions:  make(map[string]*studioSession),
	}
}

// form returns the Form of the request's studio, creating it on first use.
func (sh *StudioHandler) form(ctx context.Context) (*studio.Form, string, error) {
	id, err := auth.StudioID(ctx)
	if err != nil {
		return nil, "", err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if s, ok := sh.sessions[id]; ok {
		s.lastSeen = sh.now()
		return s.form, id, nil
	}

	form, err := studio.NewForm(ctx, studio.Deps{
		Credentials: auth.SessionCredentials{},
		Speaker:     sh.hub.Speaker(id),
		Generator:   sh.generator,
		Audio:       sh.audio,
		Logger:      sh.logger.With(zap.String("studio", id)),
		Now:         sh.now,
		OnChange: func(s studio.State) {
			sh.hub.Send(id, websocket.Message{Type: websocket.TypeState, State: &s})
		},
	})
	if err != nil {
		return nil, "", err
	}

	sh.sessions[id] = &studioSession{form: form, lastSeen: sh.now()}
	sh.metrics.SetStudioSessions(len(sh.sessions))
	sh.logger.Debug("studio opened", zap.String("studio", id))
	return form, id, nil
}

// Sweep closes studios not seen for longer than idle.
func (sh *StudioHandler) Sweep(idle time.Duration) int {
	cutoff := sh.now().Add(-idle)

	sh.mu.Lock()
	var stale []string
	var forms []*studio.Form
	for id, s := range sh.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, id)
			forms = append(forms, s.form)
			delete(sh.sessions, id)
		}
	}
	sh.metrics.SetStudioSessions(len(sh.sessions))
	sh.mu.Unlock()

	for i, form := range forms {
		form.Close()
		sh.hub.DropSpeaker(stale[i])
	}
	if len(stale) > 0 {
		sh.logger.Info("closed idle studios", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// GET / - studio page
func (sh *StudioHandler) Page(w http.ResponseWriter, r *http.Request) {
	data := struct {
		DefaultText string
		Voices      []string
	}{
		DefaultText: studio.DefaultText,
		Voices:      tts.Voices,
	}

	var buf bytes.Buffer
	if err := sh.templates.ExecuteTemplate(&buf, "studio.html", data); err != nil {
		sh.logger.WithError(err).Error("failed to render studio page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// GET /studio/state
func (sh *StudioHandler) State(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	if err := form.SyncCredential(r.Context()); err != nil {
		sh.logger.WithError(err).Warn("failed to sync credential")
	}
	writeJSON(w, http.StatusOK, form.State())
}

// POST /studio/key - {key}
func (sh *StudioHandler) SaveKey(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if !sh.decode(w, r, form, &req) {
		return
	}

	err := form.SetCredential(r.Context(), req.Key)
	sh.respond(w, form, "save_key", err)
}

// POST /studio/key/clear
func (sh *StudioHandler) ClearKey(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	err := form.ClearCredential(r.Context())
	sh.respond(w, form, "clear_key", err)
}

type settingsRequest struct {
	Text         *string  `json:"text"`
	Voice        *string  `json:"voice"`
	Speed        *float64 `json:"speed"`
	Pitch        *float64 `json:"pitch"`
	PreviewVoice *string  `json:"preview_voice"`
}

// POST /studio/settings - partial update of the form fields
func (sh *StudioHandler) Settings(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !sh.decode(w, r, form, &req) {
		return
	}

	if req.Text != nil {
		form.SetText(*req.Text)
	}
	if req.Voice != nil {
		form.SetVoice(*req.Voice)
	}
	if req.Speed != nil {
		form.SetSpeed(*req.Speed)
	}
	if req.Pitch != nil {
		form.SetPitch(*req.Pitch)
	}
	if req.PreviewVoice != nil {
		form.SetPreviewVoice(*req.PreviewVoice)
	}
	writeJSON(w, http.StatusOK, form.State())
}

// POST /studio/preview - {text, preview_voice, rate, pitch}
func (sh *StudioHandler) Preview(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	var req struct {
		Text         string  `json:"text"`
		PreviewVoice string  `json:"preview_voice"`
		Rate         float64 `json:"rate"`
		Pitch        float64 `json:"pitch"`
	}
	if !sh.decode(w, r, form, &req) {
		return
	}

	err := form.Preview(req.Text, req.PreviewVoice, req.Rate, req.Pitch)
	if err != nil && !studio.IsUserError(err) {
		// The page shows no message for a missing speech engine.
		sh.metrics.RecordStudioAction("preview", err)
		writeJSON(w, http.StatusOK, form.State())
		return
	}
	sh.respond(w, form, "preview", err)
}

// POST /studio/stop
func (sh *StudioHandler) Stop(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	form.Stop()
	writeJSON(w, http.StatusOK, form.State())
}

// POST /studio/generate - {text, voice, speed}
func (sh *StudioHandler) Generate(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}
	var req struct {
		Text  string  `json:"text"`
		Voice string  `json:"voice"`
		Speed float64 `json:"speed"`
	}
	if !sh.decode(w, r, form, &req) {
		return
	}

	_, err := form.Generate(r.Context(), req.Text, req.Voice, req.Speed)
	sh.respond(w, form, "generate", err)
}

// GET /studio/audio/{id} - the studio's active clip
func (sh *StudioHandler) Audio(w http.ResponseWriter, r *http.Request) {
	form, ok := sh.load(w, r)
	if !ok {
		return
	}

	url := audioPrefix + mux.Vars(r)["id"]
	result := form.State().Result
	if result == nil || result.URL != url {
		http.NotFound(w, r)
		return
	}

	data, err := sh.audio.Open(url)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", "attachment; filename="+result.FileName)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, result.FileName, result.CreatedAt, bytes.NewReader(data))
}

// GET /studio/ws - preview channel for the studio's browser tabs
func (sh *StudioHandler) Socket(w http.ResponseWriter, r *http.Request) {
	_, id, err := sh.form(r.Context())
	if err != nil {
		sh.logger.WithError(err).Error("failed to open studio")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	sh.hub.ServeRoom(w, r, id)
}

func (sh *StudioHandler) load(w http.ResponseWriter, r *http.Request) (*studio.Form, bool) {
	form, _, err := sh.form(r.Context())
	if err != nil {
		sh.logger.WithError(err).Error("failed to open studio")
		writeError(w, http.StatusInternalServerError, string(studio.ErrUnexpected))
		return nil, false
	}
	return form, true
}

func (sh *StudioHandler) decode(w http.ResponseWriter, r *http.Request, form *studio.Form, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, studioError{Error: msgInvalidPayload, State: form.State()})
		return false
	}
	return true
}

type studioError struct {
	Error string       `json:"error"`
	State studio.State `json:"state"`
}

func (sh *StudioHandler) respond(w http.ResponseWriter, form *studio.Form, action string, err error) {
	sh.metrics.RecordStudioAction(action, err)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, form.State())
	case errors.Is(err, studio.ErrGenerationInFlight):
		writeJSON(w, http.StatusConflict, studioError{Error: err.Error(), State: form.State()})
	case studio.IsUserError(err):
		writeJSON(w, http.StatusBadRequest, studioError{Error: studio.MessageOf(err), State: form.State()})
	default:
		writeJSON(w, http.StatusBadGateway, studioError{Error: studio.MessageOf(err), State: form.State()})
	}
}

// RegisterStudioRoutes mounts the page and the /studio endpoints. r must carry
// the session middleware.
func RegisterStudioRoutes(r *mux.Router, sh *StudioHandler) {
	r.HandleFunc("/", sh.Page).Methods(http.MethodGet)

	s := r.PathPrefix("/studio").Subrouter()
	s.HandleFunc("/state", sh.State).Methods(http.MethodGet)
	s.HandleFunc("/key", sh.SaveKey).Methods(http.MethodPost)
	s.HandleFunc("/key/clear", sh.ClearKey).Methods(http.MethodPost)
	s.HandleFunc("/settings", sh.Settings).Methods(http.MethodPost)
	s.HandleFunc("/preview", sh.Preview).Methods(http.MethodPost)
	s.HandleFunc("/stop", sh.Stop).Methods(http.MethodPost)
	s.HandleFunc("/generate", sh.Generate).Methods(http.MethodPost)
	s.HandleFunc("/audio/{id}", sh.Audio).Methods(http.MethodGet)
	s.HandleFunc("/ws", sh.Socket).Methods(http.MethodGet)
}
