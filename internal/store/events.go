package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vesaa/netgaze/internal/models"
)

// AppendEvent records a status transition.
func (s *Store) AppendEvent(ctx context.Context, targetName, status, message string, at time.Time) error {
	e := models.EventLog{TargetName: targetName, Status: status, Message: message, Timestamp: at}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("append event for %s: %w", targetName, err)
	}
	return nil
}

// RecentEvents returns the newest events first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]models.EventLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.EventLog
	err := s.db.WithContext(ctx).Order("timestamp desc").Order("id desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// CountEvents returns how many events were recorded for a target name.
func (s *Store) CountEvents(ctx context.Context, targetName string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.EventLog{}).Where("target_name = ?", targetName).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count events for %s: %w", targetName, err)
	}
	return n, nil
}
