package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/screentime/internal/usage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// DefaultTokenTTL is the lifetime of tokens minted by Issue
const DefaultTokenTTL = 24 * time.Hour

// Claims are the identity claims carried by bearer tokens
type Claims struct {
	AccountID string `json:"account_id"`
	// ProfileID binds a device token to a single profile
	ProfileID string `json:"profile_id,omitempty"`
	// PINVerifiedAt is the unix time the guardian last entered their PIN
	PINVerifiedAt int64 `json:"pin_verified_at,omitempty"`
	jwt.RegisteredClaims
}

// Caller converts the claims into a usage caller
func (c *Claims) Caller() usage.Caller {
	caller := usage.Caller{AccountID: c.AccountID, ProfileID: c.ProfileID}
	if c.PINVerifiedAt > 0 {
		caller.PINVerifiedAt = time.Unix(c.PINVerifiedAt, 0).UTC()
	}
	return caller
}

// Tokens signs and verifies HS256 identity tokens
type Tokens struct {
	secret []byte
	issuer string
}

// NewTokens creates a token signer/verifier. An empty issuer disables the
// issuer check.
func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer}
}

// Issue mints a token for caller valid for ttl
func (t *Tokens) Issue(caller usage.Caller, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	claims := Claims{
		AccountID: caller.AccountID,
		ProfileID: caller.ProfileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.AccountID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if !caller.PINVerifiedAt.IsZero() {
		claims.PINVerifiedAt = caller.PINVerifiedAt.Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims
func (t *Tokens) Parse(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.AccountID == "" {
		return nil, errors.New("token has no account_id")
	}

	return claims, nil
}

type contextKey string

const callerKey contextKey = "caller"

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller in the request context
func AuthMiddleware(tokens *Tokens, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}

			claims, err := tokens.Parse(parts[1])
			if err != nil {
				logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected token")
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, claims.Caller())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated caller
func CallerFromContext(ctx context.Context) (usage.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(usage.Caller)
	return caller, ok
}
