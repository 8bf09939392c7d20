// Package httpapi exposes the ceremony orchestrator over a JSON HTTP surface.
//
// The handlers translate between HTTP and ceremony semantics and own the
// client-facing error vocabulary: finish failures collapse to two messages so
// responses never reveal which internal check rejected a request.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/ceremony"
	"github.com/louisbranch/passkey-rp/internal/rp/session"
	"github.com/louisbranch/passkey-rp/internal/rp/user"
)

//go:embed static
var staticFS embed.FS

// maxBodyBytes bounds ceremony request payloads. Attestation responses from
// real authenticators are a few kilobytes.
const maxBodyBytes = 1 << 20

const (
	msgInvalidRequest      = "invalid request"
	msgInternalError       = "internal error"
	msgVerificationFailed  = "webauthn verification failed"
	msgRegistrationExpired = "registration expired (start over)"
	msgLoginExpired        = "login expired (start over)"
	msgNotAuthenticated    = "not authenticated"
)

// Ceremonies is the orchestrator surface the handlers depend on.
type Ceremonies interface {
	StartRegistration(ctx context.Context, sess session.Session, username string) (*ceremony.CreationOptions, error)
	FinishRegistration(ctx context.Context, sess session.Session, response []byte) (user.User, error)
	StartLogin(ctx context.Context, sess session.Session, username string) (*ceremony.RequestOptions, error)
	FinishLogin(ctx context.Context, sess session.Session, response []byte) (user.User, error)
}

// Params collects the server's collaborators.
type Params struct {
	Ceremonies Ceremonies
	Sessions   *session.Store

	SessionSecret string
	SessionTTL    time.Duration

	// CookieSecure marks the session cookie Secure; disable only for plain
	// HTTP local development.
	CookieSecure bool

	Logger *log.Logger
}

// Server handles the relying party's HTTP surface.
type Server struct {
	ceremonies   Ceremonies
	sessions     *session.Store
	cookies      *cookieCodec
	cookieSecure bool
	logger       *log.Logger
}

// New validates params and returns a server.
func New(p Params) (*Server, error) {
	if p.Ceremonies == nil {
		return nil, errors.New(errors.CodeInvalidRequest, "ceremony service is required")
	}
	if p.Sessions == nil {
		return nil, errors.New(errors.CodeInvalidRequest, "session store is required")
	}
	cookies, err := newCookieCodec(p.SessionSecret, p.SessionTTL)
	if err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		ceremonies:   p.Ceremonies,
		sessions:     p.Sessions,
		cookies:      cookies,
		cookieSecure: p.CookieSecure,
		logger:       logger,
	}, nil
}

// RegisterRoutes attaches all relying party routes to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register/options", s.handleRegisterOptions)
	mux.HandleFunc("POST /api/register/verify", s.handleRegisterVerify)
	mux.HandleFunc("POST /api/login/options", s.handleLoginOptions)
	mux.HandleFunc("POST /api/login/verify", s.handleLoginVerify)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServerFS(static))
}

type usernameRequest struct {
	Username string `json:"username"`
}

type verifiedResponse struct {
	Verified bool   `json:"verified"`
	Username string `json:"username"`
}

type identityResponse struct {
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	options, err := s.ceremonies.StartRegistration(r.Context(), sess, req.Username)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgRegistrationExpired})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgVerificationFailed})
		return
	}
	u, err := s.ceremonies.FinishRegistration(r.Context(), sess, body)
	if err != nil {
		s.writeFinishError(w, err, msgRegistrationExpired)
		return
	}
	s.writeJSON(w, http.StatusOK, verifiedResponse{Verified: true, Username: u.Username})
}

func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.ensureSession(w, r)
	if !ok {
		return
	}
	options, err := s.ceremonies.StartLogin(r.Context(), sess, req.Username)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgLoginExpired})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgVerificationFailed})
		return
	}
	u, err := s.ceremonies.FinishLogin(r.Context(), sess, body)
	if err != nil {
		s.writeFinishError(w, err, msgLoginExpired)
		return
	}
	s.writeJSON(w, http.StatusOK, verifiedResponse{Verified: true, Username: u.Username})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgNotAuthenticated})
		return
	}
	username, ok := sess.Get(ceremony.SessionIdentityKey)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgNotAuthenticated})
		return
	}
	s.writeJSON(w, http.StatusOK, identityResponse{Username: username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if sessionID, err := s.cookies.parse(cookie.Value); err == nil {
			s.sessions.Delete(sessionID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// currentSession resolves the caller's server-side session from the signed
// cookie, if any.
func (s *Server) currentSession(r *http.Request) (session.Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	sessionID, err := s.cookies.parse(cookie.Value)
	if err != nil {
		return nil, false
	}
	return s.sessions.Get(sessionID)
}

// ensureSession reuses the caller's session or mints a new one and sets its
// cookie on the response.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	if sess, ok := s.currentSession(r); ok {
		return sess, true
	}
	sessionID, sess, err := s.sessions.Create()
	if err != nil {
		s.logger.Printf("create session: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternalError})
		return nil, false
	}
	token, err := s.cookies.issue(sessionID)
	if err != nil {
		s.logger.Printf("issue session token: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternalError})
		return nil, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cookies.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest})
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest})
		return false
	}
	return true
}

// writeStartError maps ceremony start failures. Unknown usernames and users
// without credentials share one message with plain bad input, so the surface
// never confirms whether an account exists.
func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	switch errors.CodeOf(err) {
	case errors.CodeInvalidRequest, errors.CodeUnknownPrincipal:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest})
	default:
		s.logger.Printf("ceremony start: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternalError})
	}
}

// writeFinishError maps ceremony finish failures to exactly two client
// messages plus the internal-error case.
func (s *Server) writeFinishError(w http.ResponseWriter, err error, expiredMessage string) {
	switch errors.CodeOf(err) {
	case errors.CodeChallengeExpiredOrMissing:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: expiredMessage})
	case errors.CodeStorageFailure, errors.CodeCryptoFailure:
		s.logger.Printf("ceremony finish: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternalError})
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgVerificationFailed})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}
