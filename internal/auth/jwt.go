package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims identify one checkout session. Holds are owned by SessionID.
type Claims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// JWTService issues and validates checkout session tokens
type JWTService struct {
	secretKey     []byte
	sessionExpiry time.Duration
}

func NewJWTService(secretKey string, sessionExpiry time.Duration) *JWTService {
	return &JWTService{
		secretKey:     []byte(secretKey),
		sessionExpiry: sessionExpiry,
	}
}

// IssueSession creates a new session id and a token carrying it
func (s *JWTService) IssueSession() (sessionID, token string, expiresAt time.Time, err error) {
	sessionID = uuid.New().String()
	token, expiresAt, err = s.GenerateSessionToken(sessionID)
	return sessionID, token, expiresAt, err
}

// GenerateSessionToken signs a token for an existing session id
func (s *JWTService) GenerateSessionToken(sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.sessionExpiry)

	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ValidateSessionToken validates a session token and returns its claims
func (s *JWTService) ValidateSessionToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *JWTService) SessionExpiry() time.Duration {
	return s.sessionExpiry
}
