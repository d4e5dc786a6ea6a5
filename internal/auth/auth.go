// Package auth verifies Bearer access tokens and yields the caller identity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SabbirMurad/fanari-backend/internal/domain"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid authorization token")
	ErrForbidden    = errors.New("not authorized to perform this action")
)

// AccessRequirement narrows which roles may pass verification.
type AccessRequirement struct {
	anyToken bool
	roles    []domain.Role
}

func AnyToken() AccessRequirement               { return AccessRequirement{anyToken: true} }
func Role(r domain.Role) AccessRequirement      { return AccessRequirement{roles: []domain.Role{r}} }
func AnyOf(rs ...domain.Role) AccessRequirement { return AccessRequirement{roles: rs} }

func (ar AccessRequirement) satisfiedBy(role domain.Role) bool {
	if ar.anyToken {
		return true
	}
	for _, r := range ar.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier turns an HTTP request into a verified identity.
type Verifier interface {
	Verify(r *http.Request, req AccessRequirement) (domain.Identity, error)
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed access tokens carrying sub and role claims.
type JWTVerifier struct {
	key []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{key: []byte(secret)}
}

func (v *JWTVerifier) Verify(r *http.Request, req AccessRequirement) (domain.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return domain.Identity{}, ErrMissingToken
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return domain.Identity{}, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, ErrInvalidToken
	}

	identity := domain.Identity{UserID: claims.Subject, Role: domain.Role(claims.Role)}
	if !req.satisfiedBy(identity.Role) {
		return domain.Identity{}, ErrForbidden
	}
	return identity, nil
}
