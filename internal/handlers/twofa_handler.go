package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devdeakin/internal/metrics"
	"devdeakin/internal/middleware"
	"devdeakin/internal/models"
	"devdeakin/internal/services"
	"devdeakin/internal/utils"
)

// Codes gives the handler the two primitives it composes with the guard.
type Codes interface {
	IssueCode(ctx context.Context, email string) (models.OTPRecord, error)
	VerifyCode(ctx context.Context, email, code string) error
}

type TwoFactorHandler struct {
	Codes    Codes
	Guard    *services.VerificationGuard // nil disables lockout and throttling
	Receipts *utils.ReceiptIssuer        // nil: verify answers without a token
	Metrics  *metrics.OTPMetrics
	Log      *zap.Logger
}

func NewTwoFactorHandler(codes Codes, guard *services.VerificationGuard, receipts *utils.ReceiptIssuer, m *metrics.OTPMetrics, log *zap.Logger) *TwoFactorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TwoFactorHandler{Codes: codes, Guard: guard, Receipts: receipts, Metrics: m, Log: log}
}

type sendCodeRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// SendCode handles POST /send-2fa.
func (h *TwoFactorHandler) SendCode(c *gin.Context) {
	var req sendCodeRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	identity := services.NormalizeIdentity(req.Email)
	if identity == "" {
		fail(c, http.StatusBadRequest, "Email required")
		return
	}

	if h.Guard != nil {
		if err := h.Guard.AllowSend(identity); err != nil {
			h.Metrics.IncThrottled()
			fail(c, http.StatusTooManyRequests, "Too many requests, try later")
			return
		}
	}

	_, err := h.Codes.IssueCode(c.Request.Context(), identity)
	switch {
	case err == nil:
		if h.Guard != nil {
			h.Guard.Issued(identity)
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, services.ErrEmailRequired):
		fail(c, http.StatusBadRequest, "Email required")
	case errors.Is(err, services.ErrEmailInvalid):
		fail(c, http.StatusBadRequest, "Invalid email")
	case errors.Is(err, services.ErrDelivery):
		// the new code was stored, so its attempts start from zero
		if h.Guard != nil {
			h.Guard.Issued(identity)
		}
		fail(c, http.StatusInternalServerError, "Failed to send verification email")
	default:
		h.Log.Error("issue code", zap.String("request_id", requestID(c)), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to send verification email")
	}
}

// VerifyCode handles POST /verify-2fa.
func (h *TwoFactorHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	identity := services.NormalizeIdentity(req.Email)

	if h.Guard != nil && h.Guard.Locked(identity) {
		h.Metrics.IncVerification(metrics.ResultLocked)
		fail(c, http.StatusTooManyRequests, "Too many attempts. Please resend the code.")
		return
	}

	err := h.Codes.VerifyCode(c.Request.Context(), identity, req.Code)
	if err == nil {
		if h.Guard != nil {
			h.Guard.Verified(identity)
		}
		resp := gin.H{"success": true}
		if h.Receipts != nil {
			token, err := h.Receipts.Issue(identity)
			if err != nil {
				// the code is already consumed; the client can still proceed without a receipt
				h.Log.Error("issue receipt", zap.String("request_id", requestID(c)), zap.Error(err))
			} else {
				resp["token"] = token
			}
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	switch {
	case errors.Is(err, services.ErrCodeNotFound):
		fail(c, http.StatusBadRequest, "No code found")
	case errors.Is(err, services.ErrCodeExpired):
		h.recordFailure(identity)
		fail(c, http.StatusBadRequest, "Code expired")
	case errors.Is(err, services.ErrCodeMismatch):
		h.recordFailure(identity)
		fail(c, http.StatusBadRequest, "Invalid code")
	default:
		h.Log.Error("verify code", zap.String("request_id", requestID(c)), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Verification failed")
	}
}

// Session handles GET /2fa/session behind middleware.RequireReceipt.
func (h *TwoFactorHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"email":    c.GetString(middleware.VerifiedEmailKey),
		"verified": true,
	})
}

// Only failures against an issued code count; probing unknown identities leaves no state.
func (h *TwoFactorHandler) recordFailure(identity string) {
	if h.Guard == nil {
		return
	}
	if n := h.Guard.RecordFailure(identity); h.Guard.Locked(identity) {
		h.Log.Warn("verification locked", zap.String("email", identity), zap.Int("failures", n))
	}
}
