package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ridequeue/internal/domain"
	"ridequeue/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	headerActorUsername = "X-Actor-Username"
	headerActorRole     = "X-Actor-Role"
)

var errUnauthenticated = errors.New("actor is not authenticated")

// Claims are issued by the identity subsystem; this service only verifies them.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateToken checks an HS256 token and returns its claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// actorResolver extracts the acting user from a request: a bearer token when
// a secret is configured, trusted gateway headers otherwise.
type actorResolver struct {
	jwtSecret string
}

func (r actorResolver) resolve(req *http.Request) (models.Actor, error) {
	if r.jwtSecret == "" {
		actor := models.Actor{
			Username: strings.TrimSpace(req.Header.Get(headerActorUsername)),
			Role:     strings.ToLower(strings.TrimSpace(req.Header.Get(headerActorRole))),
		}
		if actor.Username == "" || actor.Role == "" {
			return models.Actor{}, errUnauthenticated
		}
		return actor, nil
	}

	tokenStr := bearerToken(req)
	if tokenStr == "" {
		return models.Actor{}, errUnauthenticated
	}
	claims, err := ValidateToken(r.jwtSecret, tokenStr)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	if claims.Username == "" || claims.Role == "" {
		return models.Actor{}, fmt.Errorf("%w: token lacks username or role", errUnauthenticated)
	}
	return models.Actor{Username: claims.Username, Role: strings.ToLower(claims.Role)}, nil
}

// bearerToken reads the Authorization header, or the token query parameter
// for websocket clients that cannot set headers.
func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(req.URL.Query().Get("token"))
}

func requireRole(actor models.Actor, roles ...string) error {
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("role %q: %w", actor.Role, domain.ErrForbidden)
}
