package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"quiz-session-service/internal/domain"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID   string
	Username string
}

type actorKey struct{}

// ActorFrom returns the caller stored by the auth middleware.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(user domain.User) (string, time.Time, error) {
	issuedAt := t.now()
	expiresAt := issuedAt.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) Parse(raw string) (Actor, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || claims.Subject == "" {
		return Actor{}, domain.ErrUnauthenticated
	}
	return Actor{UserID: claims.Subject, Username: claims.Username}, nil
}

// actor resolves the bearer token of r, if any.
func (t *TokenIssuer) actor(r *http.Request) (Actor, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Actor{}, false
	}
	actor, err := t.Parse(raw)
	if err != nil {
		return Actor{}, false
	}
	return actor, true
}

// streamActor resolves the caller of a websocket handshake. Browsers cannot
// set headers on the upgrade request, so a token query parameter is accepted
// as well. A token that is present but invalid is an error; no token at all
// means an anonymous caller.
func (t *TokenIssuer) streamActor(r *http.Request) (Actor, bool, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if raw == "" {
		return Actor{}, false, nil
	}
	actor, err := t.Parse(raw)
	if err != nil {
		return Actor{}, false, err
	}
	return actor, true, nil
}

// Require rejects requests without a valid bearer token.
func (t *TokenIssuer) Require() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := t.actor(r)
			if !ok {
				writeError(w, domain.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

// Optional attaches the caller when a valid token is present and passes
// anonymous requests through.
func (t *TokenIssuer) Optional() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor, ok := t.actor(r); ok {
				r = r.WithContext(context.WithValue(r.Context(), actorKey{}, actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}
