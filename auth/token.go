// Package auth issues and verifies the bearer tokens that carry a principal's role.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin  = "Admin"
	RoleViewer = "Viewer"
)

// SystemUserID identifies work done by the server itself, such as background reclustering.
const SystemUserID = "system"

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

// IsAdmin reports whether p may change persisted clustering state.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanView reports whether p has any dashboard role.
func (p Principal) CanView() bool { return p.Role == RoleAdmin || p.Role == RoleViewer }

// System is the principal background jobs run as.
func System() Principal { return Principal{ID: SystemUserID, Role: RoleAdmin} }

// Claims are the JWT claims. The user id is read from sub, falling back to id.
type Claims struct {
	UserID string `json:"id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for p.
func (i *Issuer) Issue(p Principal) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: p.ID,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse verifies tokenString and returns its principal.
func (i *Issuer) Parse(tokenString string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, errors.New("invalid or expired token")
	}
	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{ID: id, Role: claims.Role}, nil
}
