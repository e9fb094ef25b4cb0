// Package auth implements the static-account login that switches a browser
// between proctor and administrator mode. Accounts come from configuration,
// so this is a mode switch rather than a security boundary.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in tokens.
const (
	RoleAdmin   = "admin"
	RoleProctor = "proctor"
)

const issuer = "proctordraw"

// DefaultTokenTTL is how long a login stays valid.
const DefaultTokenTTL = 12 * time.Hour

// Account is one configured login.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// DefaultAccounts returns the built-in logins.
func DefaultAccounts() []Account {
	return []Account{
		{Username: "admin", Password: "123", Role: RoleAdmin},
		{Username: "user", Password: "123", Role: RoleProctor},
	}
}

// ParseAccounts reads "user:password:role" entries separated by commas.
// The role defaults to proctor.
func ParseAccounts(value string) ([]Account, error) {
	var accounts []Account
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, entry)
		}
		account := Account{Username: parts[0], Password: parts[1], Role: RoleProctor}
		if len(parts) == 3 {
			account.Role = parts[2]
		}
		if err := account.Validate(); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Validate checks that the account is usable.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Username) == "" || a.Password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidAccount)
	}
	if a.Role != RoleAdmin && a.Role != RoleProctor {
		return fmt.Errorf("%w: unknown role %q for %s", ErrInvalidAccount, a.Role, a.Username)
	}
	return nil
}

// Claims is a verified login.
type Claims struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsAdmin reports whether the login is in administrator mode.
func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Config configures an Authenticator.
type Config struct {
	Accounts    []Account
	TokenSecret string
	TokenTTL    time.Duration
	Now         func() time.Time
}

// Authenticator checks credentials and issues HS256 tokens.
type Authenticator struct {
	accounts map[string]Account
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator validates config and builds an authenticator. An empty
// secret is replaced by a random one, invalidating tokens on restart.
func NewAuthenticator(config Config) (*Authenticator, error) {
	accounts := make(map[string]Account, len(config.Accounts))
	for _, account := range config.Accounts {
		if err := account.Validate(); err != nil {
			return nil, err
		}
		accounts[account.Username] = account
	}

	secret := config.TokenSecret
	if secret == "" {
		log.Printf("No token secret configured, generating an ephemeral one")
		secret = uuid.NewString()
	}
	ttl := config.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Authenticator{
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      now,
	}, nil
}

// Login checks the credentials and returns a signed token.
func (a *Authenticator) Login(username, password string) (string, Claims, error) {
	account, ok := a.accounts[strings.TrimSpace(username)]
	if !ok || subtle.ConstantTimeCompare([]byte(account.Password), []byte(password)) != 1 {
		return "", Claims{}, ErrInvalidCredentials
	}

	now := a.now().UTC()
	expires := now.Add(a.ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: account.Role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to sign token: %w", err)
	}

	log.Printf("Login: user=%s role=%s", account.Username, account.Role)
	return token, Claims{Username: account.Username, Role: account.Role, ExpiresAt: expires.Truncate(time.Second)}, nil
}

// Verify parses and checks a token issued by Login.
func (a *Authenticator) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Subject == "" || (parsed.Role != RoleAdmin && parsed.Role != RoleProctor) {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Username:  parsed.Subject,
		Role:      parsed.Role,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
