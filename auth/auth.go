// Package auth validates the bearer credential presented when a
// collaboration socket is opened.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-server/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AppClaims are the access token claims. UserID carries the account id;
// tokens minted elsewhere may only set the registered subject.
type AppClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

func (c *AppClaims) userID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Gate resolves a credential to an existing account.
type Gate struct {
	secret []byte
	users  core.Directory
}

func NewGate(secret string, users core.Directory) *Gate {
	if secret == "" {
		logrus.Warn("JWT_SECRET is not set. Every connection will be rejected.")
	}
	return &Gate{secret: []byte(secret), users: users}
}

// Authenticate never returns an identity together with an error. Every
// rejection wraps core.ErrInvalidCredential except directory failures.
func (g *Gate) Authenticate(ctx context.Context, credential string) (core.UserIdentity, error) {
	if credential == "" || len(g.secret) == 0 {
		return core.UserIdentity{}, fmt.Errorf("missing credential: %w", core.ErrInvalidCredential)
	}

	claims, err := g.ParseJWT(credential)
	if err != nil {
		return core.UserIdentity{}, fmt.Errorf("%v: %w", err, core.ErrInvalidCredential)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return core.UserIdentity{}, fmt.Errorf("token type %q: %w", claims.TokenType, core.ErrInvalidCredential)
	}

	userID := claims.userID()
	if userID == "" {
		return core.UserIdentity{}, fmt.Errorf("token has no subject: %w", core.ErrInvalidCredential)
	}

	user, err := g.users.User(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.UserIdentity{}, fmt.Errorf("account %s: %w", userID, core.ErrInvalidCredential)
	}
	if err != nil {
		return core.UserIdentity{}, fmt.Errorf("lookup account: %w", err)
	}
	return user, nil
}

func (g *Gate) ParseJWT(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// IssueToken mints an access token for userID. Used by tooling and tests.
func (g *Gate) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:    userID,
		TokenType: "access",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}
