package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/ceremony"
	"github.com/louisbranch/passkey-rp/internal/rp/challenge"
	"github.com/louisbranch/passkey-rp/internal/rp/session"
	"github.com/louisbranch/passkey-rp/internal/rp/user"
)

type fakeCeremonies struct {
	startRegistration  func(sess session.Session, username string) (*ceremony.CreationOptions, error)
	finishRegistration func(sess session.Session, response []byte) (user.User, error)
	startLogin         func(sess session.Session, username string) (*ceremony.RequestOptions, error)
	finishLogin        func(sess session.Session, response []byte) (user.User, error)
}

func (f *fakeCeremonies) StartRegistration(_ context.Context, sess session.Session, username string) (*ceremony.CreationOptions, error) {
	return f.startRegistration(sess, username)
}

func (f *fakeCeremonies) FinishRegistration(_ context.Context, sess session.Session, response []byte) (user.User, error) {
	return f.finishRegistration(sess, response)
}

func (f *fakeCeremonies) StartLogin(_ context.Context, sess session.Session, username string) (*ceremony.RequestOptions, error) {
	return f.startLogin(sess, username)
}

func (f *fakeCeremonies) FinishLogin(_ context.Context, sess session.Session, response []byte) (user.User, error) {
	return f.finishLogin(sess, response)
}

func newTestServer(t *testing.T, ceremonies Ceremonies) *http.ServeMux {
	t.Helper()
	server, err := New(Params{
		Ceremonies:    ceremonies,
		Sessions:      session.NewStore(time.Hour),
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", recorder.Body.String(), err)
	}
	return payload.Error
}

func TestRegisterOptionsSetsSessionCookie(t *testing.T) {
	ceremonies := &fakeCeremonies{
		startRegistration: func(_ session.Session, username string) (*ceremony.CreationOptions, error) {
			if username != "alice" {
				t.Fatalf("username = %q, want alice", username)
			}
			return &ceremony.CreationOptions{Challenge: "Y2hhbGxlbmdl"}, nil
		},
	}
	mux := newTestServer(t, ceremonies)

	recorder := postJSON(t, mux, "/api/register/options", `{"username":"alice"}`, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var sessionCookie *http.Cookie
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			sessionCookie = cookie
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatal("expected a session cookie on the options response")
	}
	if !sessionCookie.HttpOnly {
		t.Fatal("session cookie must be http-only")
	}

	var options ceremony.CreationOptions
	if err := json.Unmarshal(recorder.Body.Bytes(), &options); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if options.Challenge != "Y2hhbGxlbmdl" {
		t.Fatalf("challenge = %q", options.Challenge)
	}
}

func TestRegisterOptionsReusesExistingSession(t *testing.T) {
	var sessions []session.Session
	ceremonies := &fakeCeremonies{
		startRegistration: func(sess session.Session, _ string) (*ceremony.CreationOptions, error) {
			sessions = append(sessions, sess)
			return &ceremony.CreationOptions{}, nil
		},
	}
	mux := newTestServer(t, ceremonies)

	first := postJSON(t, mux, "/api/register/options", `{"username":"alice"}`, nil)
	second := postJSON(t, mux, "/api/register/options", `{"username":"alice"}`, first.Result().Cookies())
	if second.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", second.Code)
	}
	if len(sessions) != 2 || sessions[0] != sessions[1] {
		t.Fatal("expected both requests to resolve the same session")
	}
}

func TestRegisterVerifyWithoutSession(t *testing.T) {
	mux := newTestServer(t, &fakeCeremonies{})
	recorder := postJSON(t, mux, "/api/register/verify", `{}`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if got := decodeError(t, recorder); got != "registration expired (start over)" {
		t.Fatalf("error = %q", got)
	}
}

func TestRegisterVerifyHappyPath(t *testing.T) {
	ceremonies := &fakeCeremonies{
		startRegistration: func(_ session.Session, _ string) (*ceremony.CreationOptions, error) {
			return &ceremony.CreationOptions{}, nil
		},
		finishRegistration: func(sess session.Session, _ []byte) (user.User, error) {
			sess.Set(ceremony.SessionIdentityKey, "alice")
			return user.User{ID: "user-1", Username: "alice"}, nil
		},
	}
	mux := newTestServer(t, ceremonies)

	options := postJSON(t, mux, "/api/register/options", `{"username":"alice"}`, nil)
	cookies := options.Result().Cookies()

	verify := postJSON(t, mux, "/api/register/verify", `{"id":"x"}`, cookies)
	if verify.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", verify.Code, verify.Body.String())
	}
	var payload verifiedResponse
	if err := json.Unmarshal(verify.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Verified || payload.Username != "alice" {
		t.Fatalf("payload = %+v", payload)
	}

	me := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	for _, cookie := range cookies {
		me.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, me)
	if recorder.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", recorder.Code)
	}
	var identity identityResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &identity); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if identity.Username != "alice" {
		t.Fatalf("identity = %q, want alice", identity.Username)
	}
}

func TestLoginVerifyErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "expired challenge",
			err:        challenge.ErrExpiredOrMissing,
			wantStatus: http.StatusBadRequest,
			wantError:  "login expired (start over)",
		},
		{
			name:       "verification failure",
			err:        apperrors.New(apperrors.CodeVerificationFailed, "signature mismatch"),
			wantStatus: http.StatusBadRequest,
			wantError:  "webauthn verification failed",
		},
		{
			name:       "unknown credential",
			err:        apperrors.New(apperrors.CodeUnknownPrincipal, "record not found"),
			wantStatus: http.StatusBadRequest,
			wantError:  "webauthn verification failed",
		},
		{
			name:       "storage failure",
			err:        apperrors.New(apperrors.CodeStorageFailure, "disk is gone"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal error",
		},
		{
			name:       "crypto failure",
			err:        apperrors.New(apperrors.CodeCryptoFailure, "bad key"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ceremonies := &fakeCeremonies{
				startLogin: func(_ session.Session, _ string) (*ceremony.RequestOptions, error) {
					return &ceremony.RequestOptions{}, nil
				},
				finishLogin: func(_ session.Session, _ []byte) (user.User, error) {
					return user.User{}, tc.err
				},
			}
			mux := newTestServer(t, ceremonies)

			options := postJSON(t, mux, "/api/login/options", `{"username":"alice"}`, nil)
			verify := postJSON(t, mux, "/api/login/verify", `{}`, options.Result().Cookies())
			if verify.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", verify.Code, tc.wantStatus)
			}
			if got := decodeError(t, verify); got != tc.wantError {
				t.Fatalf("error = %q, want %q", got, tc.wantError)
			}
		})
	}
}

func TestLoginOptionsErrorMapping(t *testing.T) {
	ceremonies := &fakeCeremonies{
		startLogin: func(_ session.Session, _ string) (*ceremony.RequestOptions, error) {
			return nil, apperrors.New(apperrors.CodeUnknownPrincipal, "record not found")
		},
	}
	mux := newTestServer(t, ceremonies)

	recorder := postJSON(t, mux, "/api/login/options", `{"username":"nobody"}`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	// Unknown users and malformed input share one message.
	if got := decodeError(t, recorder); got != "invalid request" {
		t.Fatalf("error = %q", got)
	}
}

func TestLoginOptionsMalformedBody(t *testing.T) {
	mux := newTestServer(t, &fakeCeremonies{})
	recorder := postJSON(t, mux, "/api/login/options", `{"username`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if got := decodeError(t, recorder); got != "invalid request" {
		t.Fatalf("error = %q", got)
	}
}

func TestMeUnauthenticated(t *testing.T) {
	mux := newTestServer(t, &fakeCeremonies{})
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	ceremonies := &fakeCeremonies{
		startRegistration: func(sess session.Session, _ string) (*ceremony.CreationOptions, error) {
			sess.Set(ceremony.SessionIdentityKey, "alice")
			return &ceremony.CreationOptions{}, nil
		},
	}
	mux := newTestServer(t, ceremonies)

	options := postJSON(t, mux, "/api/register/options", `{"username":"alice"}`, nil)
	cookies := options.Result().Cookies()

	logout := postJSON(t, mux, "/api/logout", ``, cookies)
	if logout.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", logout.Code)
	}

	me := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	for _, cookie := range cookies {
		me.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, me)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("me status after logout = %d, want 401", recorder.Code)
	}
}

func TestStaticPageServed(t *testing.T) {
	mux := newTestServer(t, &fakeCeremonies{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Passkey demo") {
		t.Fatal("expected the demo page body")
	}
}
