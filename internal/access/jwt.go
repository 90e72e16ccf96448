package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
)

// Claims carried by ingestion tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthorizer validates HS256 tokens signed with a shared secret.
type JWTAuthorizer struct {
	secret []byte
	parser *jwt.Parser
}

var _ Authorizer = (*JWTAuthorizer)(nil)

func NewJWTAuthorizer(secret string) (*JWTAuthorizer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTAuthorizer{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

func (a *JWTAuthorizer) Authorize(_ context.Context, token string) (models.Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return models.Principal{}, apperr.New(apperr.CodeForbidden, "missing credentials")
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		msg := "invalid credentials"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "credentials expired"
		}
		return models.Principal{}, apperr.Wrap(apperr.CodeForbidden, msg, err)
	}

	if claims.Subject == "" {
		return models.Principal{}, apperr.New(apperr.CodeForbidden, "invalid credentials")
	}
	role := models.Role(claims.Role)
	switch role {
	case models.RoleAdmin, models.RoleTeacher, models.RoleStudent:
	case "":
		role = models.RoleStudent
	default:
		return models.Principal{}, apperr.New(apperr.CodeForbidden, "unknown role")
	}
	return models.Principal{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a token for p valid for ttl.
func (a *JWTAuthorizer) Issue(p models.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
