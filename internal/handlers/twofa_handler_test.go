package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devdeakin/internal/middleware"
	"devdeakin/internal/repositories"
	"devdeakin/internal/services"
	"devdeakin/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubEmails struct {
	mu   sync.Mutex
	fail bool
	sent []services.Message
}

func (s *stubEmails) Send(_ context.Context, msg services.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sendgrid: 503")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fixture struct {
	clock  *clock
	store  *repositories.OTPRepository
	emails *stubEmails
	engine *gin.Engine
	next   string
}

func newFixture(t *testing.T, guard *services.VerificationGuard, receipts *utils.ReceiptIssuer) *fixture {
	t.Helper()
	f := &fixture{
		clock:  &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		emails: &stubEmails{},
		next:   "042817",
	}
	f.store = repositories.NewOTPRepositoryWithClock(f.clock.Now)
	svc := services.NewOTPService(f.store, f.emails, nil, nil, services.OTPOptions{
		Now:   f.clock.Now,
		Codes: func() (string, error) { return f.next, nil },
	})
	h := NewTwoFactorHandler(svc, guard, receipts, nil, nil)

	f.engine = gin.New()
	f.engine.POST("/send-2fa", h.SendCode)
	f.engine.POST("/verify-2fa", h.VerifyCode)
	if receipts != nil {
		f.engine.GET("/2fa/session", middleware.RequireReceipt(receipts), h.Session)
	}
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (f *fixture) send(t *testing.T, email string) (int, map[string]any) {
	return f.post(t, "/send-2fa", fmt.Sprintf(`{"email":%q}`, email))
}

func (f *fixture) verify(t *testing.T, email, code string) (int, map[string]any) {
	return f.post(t, "/verify-2fa", fmt.Sprintf(`{"email":%q,"code":%q}`, email, code))
}

func TestSendAndVerifyFlow(t *testing.T) {
	f := newFixture(t, nil, nil)

	status, body := f.send(t, "a@x.com")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	require.Len(t, f.emails.sent, 1)
	assert.Contains(t, f.emails.sent[0].Text, "042817")

	status, body = f.verify(t, "a@x.com", "042817")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true}, body)

	status, body = f.verify(t, "a@x.com", "042817")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "No code found", body["error"])
}

func TestSendRequiresEmail(t *testing.T) {
	f := newFixture(t, nil, nil)

	for _, body := range []string{`{}`, `{"email":""}`, ``} {
		status, out := f.post(t, "/send-2fa", body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, "Email required", out["error"], body)
	}

	status, out := f.post(t, "/send-2fa", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", out["error"])

	status, out = f.send(t, "nope")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid email", out["error"])
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.next = "314159"
	status, _ := f.send(t, "b@x.com")
	require.Equal(t, http.StatusOK, status)

	f.clock.Advance(121 * time.Second)
	status, body := f.verify(t, "b@x.com", "314159")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Code expired", body["error"])
}

func TestVerifyWrongCode(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, _ = f.send(t, "a@x.com")

	status, body := f.verify(t, "a@x.com", "000000")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid code", body["error"])
}

func TestDeliveryFailureStillStoresCode(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.emails.fail = true

	status, body := f.send(t, "c@x.com")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to send verification email", body["error"])

	status, body = f.verify(t, "c@x.com", "042817")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	guard := services.NewVerificationGuard(services.GuardOptions{MaxAttempts: 3})
	f := newFixture(t, guard, nil)
	_, _ = f.send(t, "a@x.com")

	for i := 0; i < 3; i++ {
		status, body := f.verify(t, "a@x.com", "000000")
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "Invalid code", body["error"])
	}

	status, body := f.verify(t, "a@x.com", "042817")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many attempts. Please resend the code.", body["error"])

	// resend clears the lockout
	f.next = "271828"
	status, _ = f.send(t, "a@x.com")
	require.Equal(t, http.StatusOK, status)
	status, _ = f.verify(t, "a@x.com", "271828")
	assert.Equal(t, http.StatusOK, status)
}

func TestUnknownIdentityDoesNotLock(t *testing.T) {
	guard := services.NewVerificationGuard(services.GuardOptions{MaxAttempts: 1})
	f := newFixture(t, guard, nil)

	for i := 0; i < 3; i++ {
		_, body := f.verify(t, "ghost@x.com", "123456")
		assert.Equal(t, "No code found", body["error"])
	}
	assert.False(t, guard.Locked("ghost@x.com"))
}

func TestResendThrottle(t *testing.T) {
	guard := services.NewVerificationGuard(services.GuardOptions{MaxSends: 2, SendWindow: time.Minute})
	f := newFixture(t, guard, nil)

	status, _ := f.send(t, "a@x.com")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.send(t, "A@x.com")
	assert.Equal(t, http.StatusOK, status)

	status, body := f.send(t, "a@x.com")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests, try later", body["error"])
	assert.Len(t, f.emails.sent, 2)
}

func TestVerifyIssuesReceipt(t *testing.T) {
	receipts := utils.NewReceiptIssuer("0123456789abcdef", time.Hour)
	f := newFixture(t, nil, receipts)
	_, _ = f.send(t, "a@x.com")

	status, body := f.verify(t, "a@x.com", "042817")
	require.Equal(t, http.StatusOK, status)
	token, ok := body["token"].(string)
	require.True(t, ok)

	req := httptest.NewRequest(http.MethodGet, "/2fa/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"a@x.com"`)

	req = httptest.NewRequest(http.MethodGet, "/2fa/session", nil)
	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/2fa/session", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
