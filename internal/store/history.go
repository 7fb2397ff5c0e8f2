package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vesaa/netgaze/internal/models"
)

// DefaultHistoryLimit is the number of points a chart shows.
const DefaultHistoryLimit = 20

// AppendHistory records one latency point. The store never prunes history.
func (s *Store) AppendHistory(ctx context.Context, targetID uint, latencyMS int64, at time.Time) error {
	p := models.PingHistory{TargetID: targetID, LatencyMS: latencyMS, Timestamp: at}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return fmt.Errorf("append history for target %d: %w", targetID, err)
	}
	return nil
}

// RecentHistory returns at most limit of the newest points for a target,
// ordered oldest first for charting.
func (s *Store) RecentHistory(ctx context.Context, targetID uint, limit int) ([]models.PingHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var points []models.PingHistory
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("timestamp desc").Order("id desc").
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("recent history for target %d: %w", targetID, err)
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// DeleteHistory removes every point recorded for a target.
func (s *Store) DeleteHistory(ctx context.Context, targetID uint) error {
	return deleteHistory(s.db.WithContext(ctx), targetID)
}

func deleteHistory(tx *gorm.DB, targetID uint) error {
	if err := tx.Where("target_id = ?", targetID).Delete(&models.PingHistory{}).Error; err != nil {
		return fmt.Errorf("delete history for target %d: %w", targetID, err)
	}
	return nil
}
