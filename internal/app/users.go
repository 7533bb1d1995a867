package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"quiz-session-service/internal/domain"
)

// RegisterUser creates an account. Duplicate usernames or emails yield a conflict.
func (s *QuizService) RegisterUser(ctx context.Context, username, email, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return domain.User{}, fmt.Errorf("register: %w", domain.ErrMissingField)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("register: hash password: %w", err)
	}
	user := domain.User{
		ID:           s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("register %s: %w", username, err)
	}
	return user, nil
}

// Authenticate checks a username/password pair.
func (s *QuizService) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

// GetUser returns an account by id.
func (s *QuizService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	return s.store.GetUser(ctx, userID)
}
