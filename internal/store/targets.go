package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vesaa/netgaze/internal/models"
)

// CreateTarget validates and stores a new target; the assigned ID is written back.
func (s *Store) CreateTarget(ctx context.Context, t *models.Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.ID = 0
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	s.log.Info("target created", "id", t.ID, "name", t.Name, "address", t.Address)
	return nil
}

// ListTargets returns all targets ordered by ID.
func (s *Store) ListTargets(ctx context.Context) ([]models.Target, error) {
	var targets []models.Target
	if err := s.db.WithContext(ctx).Order("id").Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return targets, nil
}

// GetTarget returns one target by ID.
func (s *Store) GetTarget(ctx context.Context, id uint) (*models.Target, error) {
	var t models.Target
	err := s.db.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target %d: %w", id, err)
	}
	return &t, nil
}

// DeleteTarget removes a target and all of its history in one transaction.
func (s *Store) DeleteTarget(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Target{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete target %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := deleteHistory(tx, id); err != nil {
			return err
		}
		s.log.Info("target deleted", "id", id)
		return nil
	})
}
