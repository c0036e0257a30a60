/**
 * @description
 * The OTP gate issues and validates the short-lived numeric tokens guarding
 * sensitive mandate actions (approval transitions, password changes).
 *
 * Key behaviors:
 * - Tokens are 6 digits, generated from crypto/rand, stored only as a bcrypt
 *   hash, and expire 15 minutes after issuance (configurable).
 * - A successfully validated token is consumed atomically with validation, so
 *   reuse inside the expiry window fails with ErrInvalidToken.
 * - Delivery is delegated to the notification dispatcher and never blocks
 *   issuance.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: For token hashing.
 * - internal/store: For persisting the hash and expiry on the mandate.
 */

package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/corepay/approval-service/internal/domain"
	"github.com/corepay/approval-service/internal/store"
)

// OTPAttemptLimiter throttles validation attempts per mandate. A nil limiter
// disables throttling.
type OTPAttemptLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// OTPGate issues and validates one-time tokens for mandates.
type OTPGate struct {
	repo              store.Repository
	notifier          Notifier
	limiter           OTPAttemptLimiter
	ttl               time.Duration
	attemptsPerMinute int
	now               func() time.Time
}

// NewOTPGate creates an OTP gate. ttl <= 0 falls back to the 15 minute
// default window.
func NewOTPGate(repo store.Repository, notifier Notifier, limiter OTPAttemptLimiter, ttl time.Duration, attemptsPerMinute int) *OTPGate {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &OTPGate{
		repo:              repo,
		notifier:          notifier,
		limiter:           limiter,
		ttl:               ttl,
		attemptsPerMinute: attemptsPerMinute,
		now:               time.Now,
	}
}

// Issue generates a fresh token for the mandate, stores its hash with an
// expiry, and hands the cleartext to the notification dispatcher for
// out-of-band delivery. The cleartext is also returned for transports that
// deliver it themselves.
func (g *OTPGate) Issue(ctx context.Context, mandate *domain.Mandate) (string, error) {
	token, err := generateNumericToken(6)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}

	expiresAt := g.now().Add(g.ttl)
	if err := g.repo.SetMandateOTP(ctx, mandate.ID, string(hash), expiresAt); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	if g.notifier != nil {
		g.notifier.SendSMS(mandate.Phone, fmt.Sprintf("Your one-time code is %s. It expires in %d minutes.", token, int(g.ttl.Minutes())))
		g.notifier.SendEmail(mandate.Email, "Your one-time code", fmt.Sprintf("Use code %s to complete your pending action.", token))
	}

	log.Printf("level=info component=otp msg=\"token issued\" mandate_id=%s expires_at=%s", mandate.ID, expiresAt.Format(time.RFC3339))
	return token, nil
}

// Validate checks a candidate token against the mandate's stored hash. On
// success the stored token is consumed so it cannot be replayed.
func (g *OTPGate) Validate(ctx context.Context, mandate *domain.Mandate, candidate string) error {
	if g.limiter != nil && g.attemptsPerMinute > 0 {
		count, _, err := g.limiter.ConsumeRateLimit(ctx, "otp_validate", mandate.ID.String(), g.attemptsPerMinute, time.Minute)
		if err != nil {
			// Limiter outage must not lock every mandate out.
			log.Printf("level=warn component=otp msg=\"attempt limiter unavailable\" mandate_id=%s err=%v", mandate.ID, err)
		} else if count > g.attemptsPerMinute {
			return ErrOTPThrottled
		}
	}

	if mandate.OTPHash == nil || mandate.OTPExpiresAt == nil {
		return ErrInvalidToken
	}
	if g.now().After(*mandate.OTPExpiresAt) {
		return ErrExpiredToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*mandate.OTPHash), []byte(candidate)); err != nil {
		return ErrInvalidToken
	}

	if err := g.repo.ClearMandateOTP(ctx, mandate.ID); err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	mandate.OTPHash = nil
	mandate.OTPExpiresAt = nil
	return nil
}

func generateNumericToken(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
