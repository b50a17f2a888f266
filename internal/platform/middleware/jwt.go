package middleware

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	id "forgecert/pkg/domain"
	"forgecert/pkg/requestcontext"
)

// actorClaims are the claims this service expects from upstream-issued
// tokens. The auth layer signs them; we only verify and extract.
type actorClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens minted by the upstream auth layer.
type JWTResolver struct {
	signingKey []byte
}

// NewJWTResolver creates a resolver for the shared signing key.
func NewJWTResolver(signingKey string) *JWTResolver {
	return &JWTResolver{signingKey: []byte(signingKey)}
}

// ResolveActor parses and validates the token, returning the acting identity.
func (v *JWTResolver) ResolveActor(tokenString string) (requestcontext.ActorInfo, error) {
	var claims actorClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return requestcontext.ActorInfo{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return requestcontext.ActorInfo{}, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return requestcontext.ActorInfo{}, fmt.Errorf("token missing subject")
	}

	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return requestcontext.ActorInfo{}, fmt.Errorf("token role: %w", err)
	}

	return requestcontext.ActorInfo{
		ID:   id.ActorID(claims.Subject),
		Name: claims.Name,
		Role: role,
	}, nil
}
