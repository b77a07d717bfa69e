package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// AuthService validates the bearer tokens issued by the platform's identity
// service. The engine never issues tokens in production; GenerateToken exists
// for local development and tests.
type AuthService struct {
	cfg       *config.AuthConfig
	logger    *logrus.Logger
	jwtSecret []byte
}

func NewAuthService(cfg *config.AuthConfig, logger *logrus.Logger) *AuthService {
	return &AuthService{
		cfg:       cfg,
		logger:    logger,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

func (s *AuthService) GenerateToken(userID uuid.UUID, userName string) (string, error) {
	now := time.Now()
	claims := &models.JWTClaims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "github.com/riptidehq/riptide",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and verifies a bearer token. Expired tokens are
// distinguished from malformed ones so the middleware can say which.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
