package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"devdeakin/internal/metrics"
	"devdeakin/internal/models"
)

const (
	DefaultCodeTTL = 2 * time.Minute
	DefaultAppName = "DEV@Deakin"

	codeMin = 100000
	codeMax = 999999
)

// OTPStore is the slice of the repository the service depends on.
type OTPStore interface {
	Put(identity, code string, ttl time.Duration) models.OTPRecord
	Get(identity string) (models.OTPRecord, bool)
	ConsumeIfMatch(identity, code string) bool
}

type OTPOptions struct {
	TTL     time.Duration          // 0 means DefaultCodeTTL
	AppName string                 // used in the email subject
	Now     func() time.Time       // nil means time.Now
	Codes   func() (string, error) // nil means GenerateCode
}

// OTPService issues and verifies email codes. It keeps no attempt counters;
// lockout is the caller's policy (see VerificationGuard).
type OTPService struct {
	store    OTPStore
	emails   EmailService
	log      *zap.Logger
	metrics  *metrics.OTPMetrics
	validate *validator.Validate

	ttl     time.Duration
	appName string
	now     func() time.Time
	codes   func() (string, error)
}

func NewOTPService(store OTPStore, emails EmailService, log *zap.Logger, m *metrics.OTPMetrics, opts OTPOptions) *OTPService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &OTPService{
		store:    store,
		emails:   emails,
		log:      log,
		metrics:  m,
		validate: validator.New(),
		ttl:      opts.TTL,
		appName:  opts.AppName,
		now:      opts.Now,
		codes:    opts.Codes,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultCodeTTL
	}
	if s.appName == "" {
		s.appName = DefaultAppName
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.codes == nil {
		s.codes = GenerateCode
	}
	return s
}

func (s *OTPService) TTL() time.Duration { return s.ttl }

// GenerateCode returns a uniform 6-digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// NormalizeIdentity is applied to every identity before it reaches the store.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *OTPService) validateIdentity(identity string) error {
	if identity == "" {
		return ErrEmailRequired
	}
	if err := s.validate.Var(identity, "email"); err != nil {
		return ErrEmailInvalid
	}
	return nil
}

// IssueCode stores a fresh code for the identity and emails it.
// The code is stored before delivery, so even on ErrDelivery it can still be verified.
func (s *OTPService) IssueCode(ctx context.Context, email string) (models.OTPRecord, error) {
	identity := NormalizeIdentity(email)
	if err := s.validateIdentity(identity); err != nil {
		return models.OTPRecord{}, err
	}

	code, err := s.codes()
	if err != nil {
		return models.OTPRecord{}, err
	}

	rec := s.store.Put(identity, code, s.ttl)
	s.metrics.IncIssued()

	if err := s.emails.Send(ctx, s.renderMessage(identity, code)); err != nil {
		s.metrics.IncDeliveryFailure()
		s.log.Error("verification email not delivered", zap.String("email", identity), zap.Error(err))
		return rec, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	s.log.Info("verification code sent", zap.String("email", identity), zap.Time("expires_at", rec.ExpiresAt))
	return rec, nil
}

// VerifyCode checks the submitted code with exact string equality and consumes the record on success.
// An expired record is left in place; the next issue or the sweeper replaces it.
func (s *OTPService) VerifyCode(_ context.Context, email, code string) error {
	identity := NormalizeIdentity(email)

	rec, ok := s.store.Get(identity)
	if !ok {
		s.metrics.IncVerification(metrics.ResultNotFound)
		return ErrCodeNotFound
	}
	if rec.Expired(s.now()) {
		s.metrics.IncVerification(metrics.ResultExpired)
		return ErrCodeExpired
	}
	if rec.Code != code || !s.store.ConsumeIfMatch(identity, code) {
		s.metrics.IncVerification(metrics.ResultMismatch)
		return ErrCodeMismatch
	}

	s.metrics.IncVerification(metrics.ResultSuccess)
	s.log.Info("verification code accepted", zap.String("email", identity))
	return nil
}

func (s *OTPService) renderMessage(to, code string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your %s Verification Code", s.appName),
		Text:    fmt.Sprintf("Your verification code is %s", code),
		HTML: fmt.Sprintf("<p>Your verification code is <b>%s</b>. It expires in %s.</p>",
			code, humanizeTTL(s.ttl)),
	}
}

func humanizeTTL(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	case d == time.Second:
		return "1 second"
	case d > time.Second:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	default:
		return d.String()
	}
}
