package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/voiceforge/config"
	"github.com/tahcohcat/voiceforge/internal/auth"
	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/metrics"
	"github.com/tahcohcat/voiceforge/internal/studio"
	"github.com/tahcohcat/voiceforge/internal/tts"
	"github.com/tahcohcat/voiceforge/internal/websocket"
	"github.com/tahcohcat/voiceforge/web"
)

type studioEnv struct {
	server   *httptest.Server
	client   *http.Client
	handler  *StudioHandler
	upstream *upstreamStub
	clock    *time.Time
}

func newStudioEnv(t *testing.T, upstreamStatus int, upstreamBody string) *studioEnv {
	t.Helper()
	up := newUpstream(t, upstreamStatus, upstreamBody)
	nop := logger.NewNop()
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub(nop)
	go hub.Run(ctx)

	r := mux.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	synth := tts.NewOpenAI(config.UpstreamConfig{URL: up.server.URL}, nil, nop)
	RegisterTTSRoutes(r.PathPrefix("/api").Subrouter(), NewTTSHandler(synth, m, nop))

	tmpl, err := web.Templates()
	require.NoError(t, err)

	clock := time.UnixMilli(1700000000000)
	sh := NewStudioHandler(StudioDeps{
		Hub:       hub,
		Generator: studio.NewProxyClient(srv.URL, nil),
		Templates: tmpl,
		Metrics:   m,
		Logger:    nop,
		Now:       func() time.Time { return clock },
	})

	sessions := auth.NewStore(config.AuthConfig{SessionSecret: "studio-test", SessionMaxAge: 3600}, nop)
	studioRouter := r.PathPrefix("/").Subrouter()
	studioRouter.Use(sessions.Middleware)
	RegisterStudioRoutes(studioRouter, sh)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &studioEnv{
		server:   srv,
		client:   &http.Client{Jar: jar},
		handler:  sh,
		upstream: up,
		clock:    &clock,
	}
}

type studioReply struct {
	status int
	err    string
	state  studio.State
}

func (e *studioEnv) do(t *testing.T, method, path string, body any) studioReply {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	reply := studioReply{status: resp.StatusCode}
	var envelope struct {
		Error string          `json:"error"`
		State json.RawMessage `json:"state"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope), string(data))
	reply.err = envelope.Error
	if envelope.State != nil {
		require.NoError(t, json.Unmarshal(envelope.State, &reply.state))
	} else {
		require.NoError(t, json.Unmarshal(data, &reply.state))
	}
	return reply
}

func TestStudioPage(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")

	resp, err := env.client.Get(env.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "VoiceForge Studio")
	assert.Contains(t, string(body), `<option value="shimmer">shimmer</option>`)
	assert.Contains(t, string(body), studio.DefaultText)
}

func TestStudioInitialState(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")

	reply := env.do(t, http.MethodGet, "/studio/state", nil)
	assert.Equal(t, http.StatusOK, reply.status)
	assert.False(t, reply.state.Connected)
	assert.Equal(t, studio.DefaultText, reply.state.Text)
	assert.Equal(t, "alloy", reply.state.Voice)
	assert.Len(t, reply.state.StudioVoices, 11)
}

func TestStudioKeyLifecycle(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")

	reply := env.do(t, http.MethodPost, "/studio/key", map[string]string{"key": "  "})
	assert.Equal(t, http.StatusBadRequest, reply.status)
	assert.Equal(t, "Enter your OpenAI API key to continue.", reply.err)
	assert.False(t, reply.state.Connected)

	reply = env.do(t, http.MethodPost, "/studio/key", map[string]string{"key": " sk-live "})
	assert.Equal(t, http.StatusOK, reply.status)
	assert.True(t, reply.state.Connected)

	reply = env.do(t, http.MethodGet, "/studio/state", nil)
	assert.True(t, reply.state.Connected)

	reply = env.do(t, http.MethodPost, "/studio/key/clear", nil)
	assert.Equal(t, http.StatusOK, reply.status)
	assert.False(t, reply.state.Connected)
}

func TestStudioGenerateFlow(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "ID3-studio-audio")

	reply := env.do(t, http.MethodPost, "/studio/generate", map[string]any{"text": "Hello", "voice": "nova", "speed": 1.5})
	assert.Equal(t, http.StatusBadRequest, reply.status)
	assert.Equal(t, "Add your OpenAI API key to generate audio.", reply.err)
	assert.EqualValues(t, 0, env.upstream.calls.Load())

	env.do(t, http.MethodPost, "/studio/key", map[string]string{"key": "sk-live"})

	reply = env.do(t, http.MethodPost, "/studio/generate", map[string]any{"text": "Hello", "voice": "nova", "speed": 1.5})
	require.Equal(t, http.StatusOK, reply.status, reply.err)
	require.NotNil(t, reply.state.Result)
	assert.Equal(t, "Voice: nova, speed: 1.50x", reply.state.Result.Summary)
	assert.Equal(t, "voiceforge-1700000000000.mp3", reply.state.Result.FileName)
	assert.Equal(t, "Bearer sk-live", env.upstream.auth.Load())
	assert.Equal(t, "Hello", env.upstream.payload()["input"])

	resp, err := env.client.Get(env.server.URL + reply.state.Result.URL)
	require.NoError(t, err)
	audio, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ID3-studio-audio", string(audio))
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=voiceforge-1700000000000.mp3", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	url := reply.state.Result.URL
	reply = env.do(t, http.MethodPost, "/studio/settings", map[string]any{"voice": "onyx"})
	assert.Equal(t, http.StatusOK, reply.status)
	assert.Nil(t, reply.state.Result)
	assert.Equal(t, "onyx", reply.state.Voice)

	resp, err = env.client.Get(env.server.URL + url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStudioAudioIsPrivate(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")
	env.do(t, http.MethodPost, "/studio/key", map[string]string{"key": "sk-live"})
	reply := env.do(t, http.MethodPost, "/studio/generate", map[string]any{"text": "Hello", "voice": "alloy", "speed": 1})
	require.NotNil(t, reply.state.Result)

	stranger := &http.Client{}
	resp, err := stranger.Get(env.server.URL + reply.state.Result.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStudioGenerateRelaysProxyError(t *testing.T) {
	env := newStudioEnv(t, http.StatusServiceUnavailable, "overloaded")
	env.do(t, http.MethodPost, "/studio/key", map[string]string{"key": "sk-live"})

	reply := env.do(t, http.MethodPost, "/studio/generate", map[string]any{"text": "Hello", "voice": "alloy", "speed": 1})
	assert.Equal(t, http.StatusBadRequest, reply.status)
	assert.Equal(t, "overloaded", reply.err)
	assert.Equal(t, "overloaded", reply.state.Message)
	assert.False(t, reply.state.Generating)
}

func TestStudioPreview(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")

	reply := env.do(t, http.MethodPost, "/studio/preview", map[string]any{"text": " ", "preview_voice": "", "rate": 1, "pitch": 1})
	assert.Equal(t, http.StatusBadRequest, reply.status)
	assert.Equal(t, "Add some text before previewing.", reply.err)

	// No page is connected, so the speech platform is unavailable.
	reply = env.do(t, http.MethodPost, "/studio/preview", map[string]any{"text": "Hi", "preview_voice": "", "rate": 3, "pitch": 0.2})
	assert.Equal(t, http.StatusOK, reply.status)
	assert.False(t, reply.state.Speaking)
	assert.Empty(t, reply.state.Message)
	assert.Equal(t, 2.0, reply.state.Speed)
	assert.Equal(t, 0.5, reply.state.Pitch)

	reply = env.do(t, http.MethodPost, "/studio/stop", nil)
	assert.Equal(t, http.StatusOK, reply.status)
	assert.False(t, reply.state.Speaking)
}

func TestStudioInvalidJSON(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")

	reply := env.do(t, http.MethodPost, "/studio/settings", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, reply.status)
	assert.Equal(t, "Invalid JSON payload.", reply.err)
}

func TestStudioSweep(t *testing.T) {
	env := newStudioEnv(t, http.StatusOK, "audio")
	env.do(t, http.MethodGet, "/studio/state", nil)

	assert.Equal(t, 0, env.handler.Sweep(time.Hour))

	*env.clock = env.clock.Add(2 * time.Hour)
	assert.Equal(t, 1, env.handler.Sweep(time.Hour))
}
