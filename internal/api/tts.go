package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/metrics"
	"github.com/tahcohcat/voiceforge/internal/tts"
)

const (
	msgMissingKey     = "Missing OpenAI API key."
	msgInvalidPayload = "Invalid JSON payload."
	msgTextRequired   = "Text is required."
	msgRequestFailed  = "TTS request failed."

	downloadDisposition = "attachment; filename=voiceforge.mp3"
)

// TTSHandler relays synthesis requests to the provider with the caller's key.
type TTSHandler struct {
	synth   tts.Synthesizer
	metrics *metrics.Metrics
	logger  *logger.Log
}

func NewTTSHandler(synth tts.Synthesizer, m *metrics.Metrics, log *logger.Log) *TTSHandler {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.New()
	}
	return &TTSHandler{
		synth:   synth,
		metrics: m,
		logger:  log.Named("api.tts"),
	}
}

// POST /api/tts - validate, forward once, stream the MP3 back
func (th *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	credential, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		th.reject(w, http.StatusUnauthorized, metrics.OutcomeUnauthorized, msgMissingKey)
		return
	}

	req, err := decodeSynthesisRequest(r.Body)
	if err != nil {
		th.reject(w, http.StatusBadRequest, metrics.OutcomeInvalidPayload, msgInvalidPayload)
		return
	}
	if req.Text == "" {
		th.reject(w, http.StatusBadRequest, metrics.OutcomeMissingText, msgTextRequired)
		return
	}

	start := time.Now()
	audio, err := th.synth.Synthesize(r.Context(), credential, req)
	th.metrics.ObserveUpstream(err == nil, time.Since(start).Seconds())
	if err != nil {
		var upErr *tts.UpstreamError
		if errors.As(err, &upErr) {
			th.logger.Warn("upstream rejected synthesis",
				zap.Int("status", upErr.StatusCode))
			th.reject(w, http.StatusInternalServerError, metrics.OutcomeUpstreamError, upErr.Message())
			return
		}
		th.logger.WithError(err).Error("synthesis transport failed")
		th.reject(w, http.StatusInternalServerError, metrics.OutcomeTransportError, msgRequestFailed)
		return
	}
	defer audio.Body.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", downloadDisposition)
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, audio.Body)
	th.metrics.AddAudioBytes(n)
	th.metrics.RecordSynthesis(metrics.OutcomeOK)
	if err != nil {
		// Headers are gone already; the client sees a truncated body.
		th.logger.WithError(err).Warn("audio stream interrupted", zap.Int64("bytes", n))
		return
	}

	th.logger.Debug("audio relayed",
		zap.String("voice", req.Voice),
		zap.Float64("speed", req.Speed),
		zap.Int64("bytes", n))
}

func (th *TTSHandler) reject(w http.ResponseWriter, status int, outcome, msg string) {
	th.metrics.RecordSynthesis(outcome)
	writeError(w, status, msg)
}

// bearerToken accepts only the exact "Bearer " prefix and a non-blank token.
func bearerToken(header string) (string, bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// decodeSynthesisRequest fails only on malformed JSON. Fields of the wrong
// type fall back to their defaults, and a non-object document reads as empty.
func decodeSynthesisRequest(body io.Reader) (tts.Request, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return tts.Request{}, err
	}
	if !json.Valid(data) {
		return tts.Request{}, errors.New("malformed json")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		fields = nil
	}

	req := tts.Request{
		Text:  strings.TrimSpace(stringField(fields["text"])),
		Voice: tts.ResolveVoice(stringField(fields["voice"])),
		Speed: tts.DefaultSpeed,
	}
	if speed, ok := numberField(fields["speed"]); ok {
		req.Speed = speed
	}
	req.Speed = tts.ClampSpeed(req.Speed)

	return req, nil
}

func stringField(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// numberField reads a JSON number. Numbers beyond float64 range come back as
// ±Inf so the caller's clamp still applies.
func numberField(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || n == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

func RegisterTTSRoutes(r *mux.Router, th *TTSHandler) {
	r.HandleFunc("/tts", th.Synthesize).Methods(http.MethodPost)
}
