package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/tahcohcat/voiceforge/config"
	"github.com/tahcohcat/voiceforge/internal/logger"
)

const (
	sessionName = "voiceforge"

	keyStudioID   = "studio_id"
	keyCredential = "OPENAI_API_KEY"
)

var ErrNoSession = errors.New("no studio session on request")

// Store issues the encrypted studio cookie. The cookie carries the studio id
// and the user's provider key; nothing about the key is kept server side.
type Store struct {
	cookies *sessions.CookieStore
	logger  *logger.Log
}

func NewStore(cfg config.AuthConfig, log *logger.Log) *Store {
	if log == nil {
		log = logger.New()
	}

	// The secret signs the cookie; its digest is the AES-256 block key.
	blockKey := sha256.Sum256([]byte(cfg.SessionSecret))
	cookies := sessions.NewCookieStore([]byte(cfg.SessionSecret), blockKey[:])
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Store{
		cookies: cookies,
		logger:  log.Named("auth"),
	}
}

type requestSession struct {
	session *sessions.Session
	w       http.ResponseWriter
	r       *http.Request
}

type ctxKey struct{}

// Middleware loads the studio session, assigning a fresh studio id on first
// visit, and makes it available to SessionCredentials and StudioID.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.cookies.Get(r, sessionName)
		if err != nil {
			// Undecodable cookie, e.g. after a secret rotation. Start over.
			s.logger.WithError(err).Debug("discarding studio session")
		}

		if id, _ := session.Values[keyStudioID].(string); id == "" {
			session.Values[keyStudioID] = uuid.NewString()
			if err := session.Save(r, w); err != nil {
				s.logger.WithError(err).Error("failed to save studio session")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		}

		rs := &requestSession{session: session, w: w}
		ctx := context.WithValue(r.Context(), ctxKey{}, rs)
		rs.r = r.WithContext(ctx)
		next.ServeHTTP(w, rs.r)
	})
}

func fromContext(ctx context.Context) (*requestSession, error) {
	rs, ok := ctx.Value(ctxKey{}).(*requestSession)
	if !ok {
		return nil, ErrNoSession
	}
	return rs, nil
}

// StudioID returns the studio id of the request's session.
func StudioID(ctx context.Context) (string, error) {
	rs, err := fromContext(ctx)
	if err != nil {
		return "", err
	}
	id, _ := rs.session.Values[keyStudioID].(string)
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

// SessionCredentials keeps the provider key in the studio cookie of whatever
// request is carried by the context it is called with.
type SessionCredentials struct{}

func (SessionCredentials) Load(ctx context.Context) (string, error) {
	rs, err := fromContext(ctx)
	if err != nil {
		return "", err
	}
	value, _ := rs.session.Values[keyCredential].(string)
	return value, nil
}

func (SessionCredentials) Save(ctx context.Context, value string) error {
	rs, err := fromContext(ctx)
	if err != nil {
		return err
	}
	rs.session.Values[keyCredential] = value
	return rs.session.Save(rs.r, rs.w)
}

func (SessionCredentials) Clear(ctx context.Context) error {
	rs, err := fromContext(ctx)
	if err != nil {
		return err
	}
	delete(rs.session.Values, keyCredential)
	return rs.session.Save(rs.r, rs.w)
}
