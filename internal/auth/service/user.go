package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/idx"
)

const (
	MinPasswordLen    = 8
	MaxPasswordLen    = 128
	MaxDisplayNameLen = 64
)

// UserService is the credential store: identity, password hash and profile.
type UserService struct {
	Store  store.Store
	Hasher *cryptox.PasswordHasher
	Now    func() time.Time
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

// GetUserByEmail normalises email before the lookup.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

// Create stores a new user. A duplicate normalised email is ErrConflict.
func (s *UserService) Create(ctx context.Context, email, password, displayName string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	displayName, err := normalizeDisplayName(displayName, email)
	if err != nil {
		return domain.User{}, err
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := clock(s.Now)
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, err
	}
	return u, nil
}

// UpdateProfile changes the display name.
func (s *UserService) UpdateProfile(ctx context.Context, userID, displayName string) (domain.User, error) {
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	name, err := normalizeDisplayName(displayName, u.Email)
	if err != nil {
		return domain.User{}, err
	}

	now := clock(s.Now)
	if err := s.Store.Users().UpdateDisplayName(ctx, userID, name, now); err != nil {
		return domain.User{}, err
	}
	u.DisplayName = name
	u.UpdatedAt = now
	return u, nil
}

// ChangePassword replaces the password after checking the current one and
// signs the user out everywhere by deleting all refresh tokens.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Hasher.Verify(current, u.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := clock(s.Now)
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, userID, hash, now); err != nil {
			return err
		}
		return tx.RefreshTokens().DeleteUserRefreshTokens(ctx, userID)
	})
}

func ValidateEmail(email string) error {
	if email == "" {
		return validationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("email is not a valid address")
	}
	return nil
}

func ValidatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < MinPasswordLen {
		return validationError("password must be at least %d characters", MinPasswordLen)
	}
	if n > MaxPasswordLen {
		return validationError("password must be at most %d characters", MaxPasswordLen)
	}
	return nil
}

// normalizeDisplayName falls back to the local part of the email.
func normalizeDisplayName(name, email string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return "", validationError("displayName must be at most %d characters", MaxDisplayNameLen)
	}
	return name, nil
}
