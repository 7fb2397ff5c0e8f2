package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/vesaa/netgaze/internal/models"
)

// ErrBadCredentials is returned when a username/password pair does not match.
var ErrBadCredentials = errors.New("invalid credentials")

// EnsureUser creates the user with the given password if it does not exist yet.
// An existing user keeps its password. It reports whether a user was created.
func (s *Store) EnsureUser(ctx context.Context, username, password string) (bool, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup user %s: %w", username, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	u = models.User{Username: username, PasswordHash: string(hash)}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return false, fmt.Errorf("create user %s: %w", username, err)
	}
	s.log.Info("user created", "username", username)
	return true, nil
}

// Authenticate checks a password against the stored hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return &u, nil
}
