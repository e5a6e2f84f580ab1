// Package auth issues tenant-scoped API tokens and encrypts router
// credentials at rest.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service handles authentication and token operations.
type Service struct {
	jwtSecret         []byte
	tokenExpiry       time.Duration
	adminUsername     string
	adminPasswordHash string
	defaultTenantID   uuid.UUID
}

// Claims are the JWT token claims. TenantID scopes every API request.
type Claims struct {
	Username string    `json:"username"`
	TenantID uuid.UUID `json:"tenant_id"`
	jwt.RegisteredClaims
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewService creates an authentication service. adminPasswordHash must be a
// bcrypt hash; plaintext admin passwords are never configured.
func NewService(jwtSecret, adminUsername, adminPasswordHash string, defaultTenantID uuid.UUID, tokenExpiry time.Duration) (*Service, error) {
	if len(jwtSecret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	if adminUsername == "" || adminPasswordHash == "" {
		return nil, errors.New("admin credentials are not configured")
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	return &Service{
		jwtSecret:         []byte(jwtSecret),
		tokenExpiry:       tokenExpiry,
		adminUsername:     adminUsername,
		adminPasswordHash: adminPasswordHash,
		defaultTenantID:   defaultTenantID,
	}, nil
}

// Login verifies credentials against the configured admin account and issues
// a token scoped to the default tenant.
func (s *Service) Login(username, password string) (*LoginResponse, error) {
	if username != s.adminUsername {
		return nil, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	expiresAt := time.Now().Add(s.tokenExpiry)
	claims := &Claims{
		Username: username,
		TenantID: s.defaultTenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "mikronoc",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &LoginResponse{
		Token:     tokenString,
		TenantID:  s.defaultTenantID,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateToken validates a JWT token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TenantID == uuid.Nil {
		return nil, errors.New("token carries no tenant")
	}
	return claims, nil
}
