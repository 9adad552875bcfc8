// Package auth resolves the acting user from a Supabase-issued access token.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errNoSubject = errors.New("token has no subject")

// ActorResolver verifies HS256 access tokens signed with the project JWT secret.
type ActorResolver struct {
	secret []byte
}

func NewActorResolver(secret string) *ActorResolver {
	return &ActorResolver{secret: []byte(secret)}
}

// ActorID returns the user id carried in an "Authorization: Bearer" header.
// A missing header or an unconfigured secret yields nil without error; the actor is optional.
func (r *ActorResolver) ActorID(authHeader string) (*uuid.UUID, error) {
	if len(r.secret) == 0 {
		return nil, nil
	}
	raw := strings.TrimSpace(authHeader)
	if raw == "" {
		return nil, nil
	}
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	if sub == "" {
		return nil, errNoSubject
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	return &id, nil
}
