// Package service — authentication business logic.
//
//	AuthHandler (HTTP) → AuthService → UserRepository
//	                                 ↘ TokenService (session JWT)
//
// AuthService never touches cookies or requests. The handler owns the OAuth
// redirect dance, this layer only turns a verified Profile into a user row
// and a session token.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

type AuthService struct {
	users         repository.UserRepository
	tokens        *auth.TokenService
	signupCredits int64
	logger        *slog.Logger
}

// NewAuthService creates an AuthService. signupCredits is the opening
// balance of a brand-new user.
func NewAuthService(users repository.UserRepository, tokens *auth.TokenService, signupCredits int64, logger *slog.Logger) *AuthService {
	if signupCredits < 0 {
		signupCredits = 0
	}
	return &AuthService{
		users:         users,
		tokens:        tokens,
		signupCredits: signupCredits,
		logger:        logger,
	}
}

// AuthResult bundles the user and the session token so the handler can set
// the cookie and redirect in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegister upserts the user behind profile and issues a session.
//
// The user id is "<provider>:<id>". On first login the user starts with the
// signup credits. Later logins refresh Email and Name and leave credits and
// subscription alone.
func (s *AuthService) LoginOrRegister(ctx context.Context, profile *auth.Profile) (*AuthResult, error) {
	if profile == nil || profile.Provider == "" || profile.ID == "" {
		return nil, fmt.Errorf("service/auth: profile must have a provider and an id")
	}

	user := &model.User{
		ID:       model.UserID(profile.Provider, profile.ID),
		Provider: profile.Provider,
		Email:    profile.Email,
		Name:     profile.Name,
		Credits:  s.signupCredits,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user %s: %w", user.ID, err)
	}

	s.logger.Info("user authenticated",
		slog.String("userID", user.ID),
		slog.String("provider", profile.Provider),
	)

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID backs /api/me.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// ValidateToken returns the user id in a session token.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}
