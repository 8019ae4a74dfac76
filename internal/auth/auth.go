// File path: internal/auth/auth.go
//
// Package auth admits requests carrying either an api key (header
// "x-api-key", prefix "agentflow_") or a signed session cookie from the email
// sign-in flow. Both paths resolve to a principal user id.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreflowai/agent-dog/internal/store"
)

// KeyPrefix marks every issued api key.
const KeyPrefix = "agentflow_"

// SessionCookie is the name of the signed login cookie.
const SessionCookie = "agentdog_session"

// ErrUnauthorized reports a request with no acceptable credential.
var ErrUnauthorized = errors.New("unauthorized")

// Config carries the secrets and policy the verifier needs.
type Config struct {
	// Secret signs session cookies. Required.
	Secret string
	// AllowedEmailDomains restricts server-side account creation. Empty
	// means any domain.
	AllowedEmailDomains []string
	// SessionTTL bounds cookie validity.
	SessionTTL time.Duration
}

// LoadConfig reads the auth configuration from the environment.
func LoadConfig() (Config, error) {
	secret := strings.TrimSpace(getenv("BETTER_AUTH_SECRET"))
	if secret == "" {
		return Config{}, errors.New("BETTER_AUTH_SECRET required")
	}
	cfg := Config{Secret: secret, SessionTTL: 7 * 24 * time.Hour}
	if domains := strings.TrimSpace(getenv("ALLOWED_EMAIL_DOMAINS")); domains != "" {
		for _, domain := range strings.Split(domains, ",") {
			if trimmed := strings.TrimSpace(domain); trimmed != "" {
				cfg.AllowedEmailDomains = append(cfg.AllowedEmailDomains, strings.ToLower(trimmed))
			}
		}
	}
	return cfg, nil
}

// Verifier resolves request credentials to a principal user id.
type Verifier struct {
	store *store.Store
	cfg   Config
}

// NewVerifier constructs a Verifier over the credential tables in the store.
func NewVerifier(s *store.Store, cfg Config) *Verifier {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	return &Verifier{store: s, cfg: cfg}
}

// Verify checks the two acceptance paths in order: api key header first, then
// session cookie. Returns the principal user id or ErrUnauthorized.
func (v *Verifier) Verify(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
		if userID, err := v.VerifyKey(r.Context(), key); err == nil {
			return userID, nil
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if userID, err := v.VerifyToken(cookie.Value); err == nil {
			return userID, nil
		}
	}
	return "", ErrUnauthorized
}

// VerifyKey validates an opaque api key against the stored hashes.
func (v *Verifier) VerifyKey(ctx context.Context, key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", ErrUnauthorized
	}
	userID, err := v.store.UserIDForKeyHash(ctx, HashKey(key))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("verify key: %w", err)
	}
	return userID, nil
}

// IssueKey mints a new api key for the user, stores its hash, and returns the
// plaintext key. The plaintext is shown once and never stored.
func (v *Verifier) IssueKey(ctx context.Context, userID, name string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	key := KeyPrefix + hex.EncodeToString(raw)
	record := store.APIKey{
		ID:      strings.TrimPrefix(key[:len(KeyPrefix)+8], KeyPrefix),
		UserID:  userID,
		KeyHash: HashKey(key),
	}
	if name != "" {
		record.Name.String = name
		record.Name.Valid = true
	}
	if err := v.store.CreateAPIKey(ctx, record); err != nil {
		return "", err
	}
	return key, nil
}

// HashKey derives the storable digest of an api key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IssueToken signs a session token for the user: "userID.expiresAt.signature".
func (v *Verifier) IssueToken(userID string) string {
	expires := time.Now().Add(v.cfg.SessionTTL).UnixMilli()
	payload := fmt.Sprintf("%s.%d", userID, expires)
	return payload + "." + v.sign(payload)
}

// VerifyToken checks a session token's signature and expiry.
func (v *Verifier) VerifyToken(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrUnauthorized
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(v.sign(payload)), []byte(parts[2])) {
		return "", ErrUnauthorized
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().UnixMilli() > expires {
		return "", ErrUnauthorized
	}
	return parts[0], nil
}

func (v *Verifier) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(v.cfg.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashPassword derives the stored password digest. Keyed with the auth secret
// so a leaked table alone is not crackable offline against plain SHA-256.
func (v *Verifier) HashPassword(password string) string {
	mac := hmac.New(sha256.New, []byte(v.cfg.Secret))
	mac.Write([]byte("pw:" + password))
	return hex.EncodeToString(mac.Sum(nil))
}

// EmailAllowed applies the ALLOWED_EMAIL_DOMAINS policy.
func (v *Verifier) EmailAllowed(email string) bool {
	if len(v.cfg.AllowedEmailDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range v.cfg.AllowedEmailDomains {
		if domain == allowed {
			return true
		}
	}
	return false
}

// CreateUser provisions a principal server-side (invite redemption, test
// bootstrap). Public sign-up stays disabled by policy.
func (v *Verifier) CreateUser(ctx context.Context, id, email, password string) error {
	if !v.EmailAllowed(email) {
		return fmt.Errorf("email domain not allowed: %s", email)
	}
	return v.store.CreateUser(ctx, store.User{
		ID:           id,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: v.HashPassword(password),
	})
}

// Authenticate checks an email/password pair and returns the user id.
func (v *Verifier) Authenticate(ctx context.Context, email, password string) (string, error) {
	user, err := v.store.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	if !hmac.Equal([]byte(user.PasswordHash), []byte(v.HashPassword(password))) {
		return "", ErrUnauthorized
	}
	return user.ID, nil
}

type contextKey struct{}

// WithUserID stamps the admitted principal onto the request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID reads the admitted principal off the request context.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func getenv(key string) string {
	return os.Getenv(key)
}
