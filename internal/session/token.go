package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeSession is the typ claim of tour session tokens.
const TokenTypeSession = "session"

// DefaultLeeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptySessionID is returned when sessionID is empty.
var ErrEmptySessionID = errors.New("sessionID cannot be empty")

// Claims are the JWT claims of a session token. The subject is the session id.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// TokenService issues and validates session tokens.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type TokenService struct {
	currentSecret  []byte
	previousSecret []byte
	ttl            time.Duration
	leeway         time.Duration
	now            func() time.Time
}

// NewTokenService creates a TokenService signing with secret.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return NewTokenServiceWithRotation(secret, "", ttl)
}

// NewTokenServiceWithRotation creates a TokenService with dual-key support for
// zero-downtime rotation. Set previousSecret to "" if no rotation is in progress.
func NewTokenServiceWithRotation(currentSecret, previousSecret string, ttl time.Duration) *TokenService {
	svc := &TokenService{
		currentSecret: []byte(currentSecret),
		ttl:           ttl,
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// TTL returns the token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed token for the session.
func (s *TokenService) Issue(sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Type: TokenTypeSession,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// Validate parses and validates a token, returning its claims.
// Tries currentSecret first, then previousSecret if available.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err == nil {
		return claims, nil
	}

	if s.previousSecret != nil {
		claims, prevErr := s.parse(tokenString, s.previousSecret)
		if prevErr == nil {
			return claims, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *TokenService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != TokenTypeSession || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
