package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devdeakin/internal/config"
	"devdeakin/internal/metrics"
	"devdeakin/internal/middleware"
	"devdeakin/internal/repositories"
	"devdeakin/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captureEmails struct {
	last services.Message
}

func (c *captureEmails) Send(_ context.Context, msg services.Message) error {
	c.last = msg
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *captureEmails) {
	t.Helper()
	cfg := config.Default()
	cfg.Email.Provider = config.ProviderLog
	require.NoError(t, cfg.Validate())

	registry := prometheus.NewRegistry()
	m := metrics.NewOTPMetrics(registry)
	emails := &captureEmails{}
	svc := services.NewOTPService(repositories.NewOTPRepository(), emails, nil, m, services.OTPOptions{
		Codes: func() (string, error) { return "123456", nil },
	})

	return NewRouter(Deps{
		Config:   cfg,
		Log:      zap.NewNop(),
		Guard:    services.NewVerificationGuard(services.GuardOptions{MaxAttempts: 3, MaxSends: 5}),
		Codes:    svc,
		Metrics:  m,
		Registry: registry,
	}), emails
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterEndToEnd(t *testing.T) {
	r, emails := newTestRouter(t)

	w := do(r, http.MethodPost, "/send-2fa", `{"email":"a@x.com"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, "Your DEV@Deakin Verification Code", emails.last.Subject)

	w = do(r, http.MethodPost, "/verify-2fa", `{"email":"a@x.com","code":"123456"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = do(r, http.MethodPost, "/verify-2fa", `{"email":"a@x.com","code":"123456"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"No code found"}`, w.Body.String())

	w = do(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devdeakin_otp_issued_total 1")
	assert.Contains(t, w.Body.String(), `devdeakin_otp_verifications_total{result="success"} 1`)
}

func TestRouterHealthAndRequestID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = do(r, http.MethodGet, "/healthz", "", map[string]string{middleware.RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
}

func TestRouterCORS(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodOptions, "/send-2fa", "", map[string]string{
		"Origin":                        "https://dev-deakins.netlify.app",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dev-deakins.netlify.app", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodOptions, "/send-2fa", "", map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterRecoversPanics(t *testing.T) {
	r, _ := newTestRouter(t)
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Internal server error"}`, w.Body.String())
}

func TestNewEmailServiceProviders(t *testing.T) {
	log := zap.NewNop()
	assert.NotNil(t, NewEmailService(config.EmailConfig{Provider: config.ProviderLog}, log))
	assert.NotNil(t, NewEmailService(config.EmailConfig{Provider: config.ProviderSMTP, SMTPHost: "localhost", SMTPPort: 25}, log))
	assert.NotNil(t, NewEmailService(config.EmailConfig{Provider: config.ProviderSendGrid, SendGridAPIKey: "SG.x"}, log))
}
