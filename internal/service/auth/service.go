package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/pkg/config"
	"github.com/bugradar/bugradar/pkg/crypto"
	jwtpkg "github.com/bugradar/bugradar/pkg/jwt"
)

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken covers missing, expired, forged or wrong-kind tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Service handles account and session workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// TokenPair contains access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, TokenPair{}, ErrEmailTaken
		}
		return nil, TokenPair{}, err
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, tokens, nil
}

// Login authenticates a user and returns tokens.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, tokens, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s Service) Refresh(ctx context.Context, refreshToken string) (*domain.User, TokenPair, error) {
	user, _, err := s.verify(ctx, refreshToken, jwtpkg.KindRefresh)
	if err != nil {
		return nil, TokenPair{}, err
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, tokens, nil
}

// Authorize validates an access token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	return s.verify(ctx, token, jwtpkg.KindAccess)
}

func (s Service) verify(ctx context.Context, token, kind string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrInvalidToken
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil || claims.Kind != kind {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidArgument) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) issueTokens(user *domain.User) (TokenPair, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.Email, jwtpkg.KindAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := jwtpkg.GenerateToken(user.ID, user.Email, jwtpkg.KindRefresh, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
