// Package auth verifies bearer credentials and derives the caller identity.
package auth

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload carried by a bearer credential.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Authenticator verifies HMAC-SHA256 signed bearer credentials.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator builds an Authenticator keyed by secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Verify returns the identity behind token, or nil when the token is absent,
// malformed, tampered with or expired. It never fails loudly: anonymous is a normal caller.
func (a *Authenticator) Verify(token string) *UserInfo {
	if a == nil || len(a.secret) == 0 || token == "" {
		return nil
	}
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	return NewUserInfo(claims.Subject, claims.Email, claims.Roles...)
}

// FromRequest verifies the Authorization bearer header of r.
func (a *Authenticator) FromRequest(r *http.Request) *UserInfo {
	return a.Verify(BearerToken(r.Header.Get("Authorization")))
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Mint signs a credential for u expiring after ttl. A zero ttl mints a token without exp.
// Used by operator tooling and tests; production tokens are issued upstream.
func Mint(secret string, u *UserInfo, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: no secret configured")
	}
	if u == nil {
		return "", errors.New("auth: identity required")
	}
	now := time.Now().UTC()
	roles := u.RoleList()
	sort.Strings(roles)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  u.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email: u.Email,
		Roles: roles,
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
