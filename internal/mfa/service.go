// Package mfa manages the TOTP lifecycle for identity clusters. Every state
// change fans out to all accounts sharing the email, so the person's second
// factor is the same no matter which provider they log in with.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"idgate.org/internal/rbac"
)

var (
	// ErrNotConfigured is returned when a code is verified before setup.
	ErrNotConfigured = errors.New("mfa: not configured")
	// ErrInvalidCode is returned when a code fails verification; no state
	// changes in that case.
	ErrInvalidCode = errors.New("mfa: invalid code")
)

const totpPeriod = 30 * time.Second

// TokenIssuer hands out a session token once a code has been verified.
type TokenIssuer interface {
	Issue(email string) (string, time.Time, error)
}

// Setup is the result of BeginSetup: the shared secret plus the otpauth URI
// the client renders as a QR code.
type Setup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// Status reports the cluster's current MFA state.
type Status struct {
	Enabled bool   `json:"enabled"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

type consumedCode struct {
	code string
	step int64
}

// Service drives the enrollment flow.
type Service struct {
	store  rbac.Store
	tokens TokenIssuer
	issuer string
	now    func() time.Time

	mu       sync.Mutex
	consumed map[string]consumedCode
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an MFA service. issuer is the name shown in
// authenticator apps.
func NewService(store rbac.Store, tokens TokenIssuer, issuer string, opts ...Option) *Service {
	s := &Service{
		store:    store,
		tokens:   tokens,
		issuer:   issuer,
		now:      time.Now,
		consumed: make(map[string]consumedCode),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginSetup generates a fresh secret and stores it across the cluster.
// MFA stays disabled until a code is verified; repeating setup replaces the
// pending secret.
func (s *Service) BeginSetup(ctx context.Context, email string) (*Setup, error) {
	accs, err := s.store.ListAccountsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("mfa: list cluster: %w", err)
	}
	if len(accs) == 0 {
		return nil, fmt.Errorf("%w: no account for %s", rbac.ErrNotFound, email)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		Period:      uint(totpPeriod.Seconds()),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: generate secret: %w", err)
	}

	secret := key.Secret()
	if _, err := s.store.UpdateClusterMFA(ctx, email, rbac.MFAUpdate{Secret: &secret}); err != nil {
		return nil, fmt.Errorf("mfa: store secret: %w", err)
	}
	return &Setup{Secret: secret, ProvisioningURI: key.URL()}, nil
}

// VerifyAndEnable checks the code against the pending secret. On success the
// whole cluster flips to enabled and a session token is issued. An invalid
// code leaves everything untouched.
func (s *Service) VerifyAndEnable(ctx context.Context, email, code string) (string, time.Time, error) {
	acc, err := s.firstMember(ctx, email)
	if err != nil {
		return "", time.Time{}, err
	}
	if acc.MFASecret == "" {
		return "", time.Time{}, ErrNotConfigured
	}
	if err := s.checkCode(email, acc.MFASecret, code); err != nil {
		return "", time.Time{}, err
	}

	enabled, using := true, true
	if _, err := s.store.UpdateClusterMFA(ctx, email, rbac.MFAUpdate{Enabled: &enabled, UsingMFA: &using}); err != nil {
		return "", time.Time{}, fmt.Errorf("mfa: enable cluster: %w", err)
	}
	tok, exp, err := s.tokens.Issue(email)
	if err != nil {
		return "", time.Time{}, err
	}
	s.markConsumed(email, code)
	return tok, exp, nil
}

// Verify checks a code during login for a cluster that already has MFA
// enabled, and issues the session token.
func (s *Service) Verify(ctx context.Context, email, code string) (string, time.Time, error) {
	acc, err := s.firstMember(ctx, email)
	if err != nil {
		return "", time.Time{}, err
	}
	if !acc.MFAEnabled || acc.MFASecret == "" {
		return "", time.Time{}, ErrNotConfigured
	}
	if err := s.checkCode(email, acc.MFASecret, code); err != nil {
		return "", time.Time{}, err
	}
	tok, exp, err := s.tokens.Issue(email)
	if err != nil {
		return "", time.Time{}, err
	}
	s.markConsumed(email, code)
	return tok, exp, nil
}

// Disable turns MFA off for the whole cluster and discards the secret.
func (s *Service) Disable(ctx context.Context, email string) error {
	if _, err := s.firstMember(ctx, email); err != nil {
		return err
	}
	enabled, using, secret := false, false, ""
	if _, err := s.store.UpdateClusterMFA(ctx, email, rbac.MFAUpdate{Enabled: &enabled, UsingMFA: &using, Secret: &secret}); err != nil {
		return fmt.Errorf("mfa: disable cluster: %w", err)
	}
	s.mu.Lock()
	delete(s.consumed, email)
	s.mu.Unlock()
	return nil
}

// GetStatus reports the cluster's MFA state.
func (s *Service) GetStatus(ctx context.Context, email string) (*Status, error) {
	acc, err := s.firstMember(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Status{Enabled: acc.MFAEnabled, Email: acc.Email, Name: acc.Name}, nil
}

func (s *Service) firstMember(ctx context.Context, email string) (*rbac.Account, error) {
	accs, err := s.store.ListAccountsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("mfa: list cluster: %w", err)
	}
	if len(accs) == 0 {
		return nil, fmt.Errorf("%w: no account for %s", rbac.ErrNotFound, email)
	}
	return accs[0], nil
}

// checkCode validates the TOTP code and rejects immediate reuse: a code that
// already unlocked a session cannot be replayed within its validity window.
// Consumption is recorded separately via markConsumed, after the state write
// that follows a successful check; a failed write leaves the code spendable.
func (s *Service) checkCode(email, secret, code string) error {
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    uint(totpPeriod.Seconds()),
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return ErrInvalidCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, found := s.consumed[email]; found && prev.code == code && s.step()-prev.step <= 1 {
		return ErrInvalidCode
	}
	return nil
}

func (s *Service) markConsumed(email, code string) {
	s.mu.Lock()
	s.consumed[email] = consumedCode{code: code, step: s.step()}
	s.mu.Unlock()
}

func (s *Service) step() int64 {
	return s.now().Unix() / int64(totpPeriod.Seconds())
}
