// Package auth issues and validates citizen session tokens. Two login
// paths exist: phone + password, and camera-based face verification for
// users who cannot type a password.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid phone number or password")
	ErrAlreadyRegistered  = errors.New("phone number already registered")
)

const (
	issuer           = "grameenconnect"
	accessDuration   = 24 * time.Hour
	faceSubjectName  = "Verified Citizen"
	minSecretLength  = 32
)

// Citizen is one registered portal user.
type Citizen struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	passwordHash string
}

// Token is an issued session credential.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Name        string    `json:"name"`
}

// Service holds the citizen registry and signs session tokens. The
// registry is in-memory; portal deployments run one node per panchayat
// and accounts are re-enrolled at the kiosk.
type Service struct {
	secret []byte
	logger *zap.Logger

	mu       sync.RWMutex
	citizens map[string]*Citizen // keyed by phone
}

// New creates a Service. Short secrets are padded so development setups
// still start; production configs must provide a real 32+ byte secret.
func New(secret string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		secret = "default-dev-secret-change-in-production-32chars"
		logger.Warn("using default session secret, set auth.secret in production")
	}
	for len(secret) < minSecretLength {
		secret += "x"
	}
	return &Service{
		secret:   []byte(secret),
		logger:   logger.Named("auth"),
		citizens: make(map[string]*Citizen),
	}
}

// Register enrolls a new citizen with a bcrypt-hashed password.
func (s *Service) Register(name, phone, password string) (*Citizen, error) {
	if name == "" || phone == "" || password == "" {
		return nil, errors.New("name, phone and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.citizens[phone]; exists {
		return nil, ErrAlreadyRegistered
	}

	c := &Citizen{
		ID:           uuid.New().String(),
		Name:         name,
		Phone:        phone,
		passwordHash: string(hash),
	}
	s.citizens[phone] = c
	s.logger.Info("citizen registered", zap.String("citizen_id", c.ID))
	return c, nil
}

// Login verifies a password and issues a session token.
func (s *Service) Login(phone, password string) (*Token, error) {
	s.mu.RLock()
	c, ok := s.citizens[phone]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(c.passwordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(c.ID, c.Name)
}

// FaceLogin issues a session token after the caller has passed face
// verification. The verification itself happens upstream; this only
// mints the credential for the verified session.
func (s *Service) FaceLogin() (*Token, error) {
	return s.issue(uuid.New().String(), faceSubjectName)
}

func (s *Service) issue(subject, name string) (*Token, error) {
	now := time.Now()
	expires := now.Add(accessDuration)
	claims := jwt.MapClaims{
		"sub":  subject,
		"name": name,
		"iss":  issuer,
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(expires),
		"jti":  uuid.New().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		Name:        name,
	}, nil
}

// Verify parses a token and returns the subject and display name.
func (s *Service) Verify(tokenString string) (subject, name string, err error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid or expired token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid token claims")
	}
	subject, _ = claims["sub"].(string)
	if subject == "" {
		return "", "", errors.New("token missing subject")
	}
	name, _ = claims["name"].(string)
	return subject, name, nil
}
