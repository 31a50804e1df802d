package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/pto-engine/leave"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type AuthConfig struct {
	Secret string
	// Required rejects requests without a valid bearer token. When false the
	// X-Actor-* headers are accepted as a fallback.
	Required bool
}

// Claims carries the acting user: Subject is the employee id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, actor leave.ActingUser, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, actor leave.ActingUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (leave.ActingUser, bool) {
	actor, ok := ctx.Value(ctxKey{}).(leave.ActingUser)
	return actor, ok
}

// Authenticate resolves the ActingUser for every request or answers 401.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := actorFromRequest(r, cfg)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func actorFromRequest(r *http.Request, cfg AuthConfig) (leave.ActingUser, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return leave.ActingUser{}, errors.New("malformed authorization header")
		}
		claims, err := ParseToken(cfg.Secret, parts[1])
		if err != nil {
			return leave.ActingUser{}, err
		}
		role, err := leave.ParseRole(claims.Role)
		if err != nil {
			return leave.ActingUser{}, err
		}
		return leave.ActingUser{ID: claims.Subject, Role: role}, nil
	}

	if cfg.Required {
		return leave.ActingUser{}, errors.New("missing bearer token")
	}
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if id == "" {
		return leave.ActingUser{}, errors.New("missing " + HeaderActorID + " header")
	}
	roleHeader := r.Header.Get(HeaderActorRole)
	if roleHeader == "" {
		roleHeader = string(leave.RoleEmployee)
	}
	role, err := leave.ParseRole(roleHeader)
	if err != nil {
		return leave.ActingUser{}, err
	}
	return leave.ActingUser{ID: id, Role: role}, nil
}
