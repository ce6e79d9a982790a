package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/internal/storage/sqlite"
	"github.com/virtual-therapist/backend/pkg/logger"
)

const minPasswordLength = 6

var (
	ErrInvalidInput       = errors.New("invalid registration details")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type UserStore interface {
	CreateUser(user *models.User) error
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
}

type Service struct {
	store    UserStore
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewService(store UserStore, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL == 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Service{
		store:    store,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// Register creates an account and returns a signed token for it.
func (s *Service) Register(name, email, password string) (string, *models.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	if name == "" || len(password) < minPasswordLength {
		return "", nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreateUser(user); err != nil {
		if errors.Is(err, sqlite.ErrDuplicate) {
			return "", nil, ErrEmailTaken
		}
		return "", nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return "", nil, err
	}

	logger.Info("User registered", zap.String("user_id", user.ID))
	return token, user, nil
}

func (s *Service) Login(email, password string) (string, *models.User, error) {
	user, err := s.store.GetUserByEmail(normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}

func (s *Service) User(id string) (*models.User, error) {
	user, err := s.store.GetUserByID(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// IssueToken signs an HS256 token whose subject is userID.
func (s *Service) IssueToken(userID string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken returns the user id carried by a valid, unexpired token.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
