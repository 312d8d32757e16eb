package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/repository"
)

// MaintenanceService runs the housekeeping jobs: retention purge and
// tenant statistics rollups.
type MaintenanceService struct {
	readings repository.ReadingsRepository
	stats    repository.StatsRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewMaintenanceService(readings repository.ReadingsRepository, stats repository.StatsRepository,
	logger *zap.Logger) *MaintenanceService {
	return &MaintenanceService{readings: readings, stats: stats, logger: logger, now: time.Now}
}

// PurgeReadings deletes one bounded batch of readings older than the
// cutoff, oldest first. Callers re-invoke until Deleted is zero.
func (s *MaintenanceService) PurgeReadings(ctx context.Context, olderThanDays, batchSize int, dryRun bool) (*repository.PurgeResult, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -olderThanDays)
	result, err := s.readings.PurgeOlderThan(ctx, cutoff, batchSize, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun && result.Deleted > 0 {
		s.logger.Info("purged readings",
			zap.Int("deleted", result.Deleted),
			zap.Time("cutoff", cutoff))
	}
	return result, nil
}

// RecomputeTenantStats rebuilds the rollup for one tenant.
func (s *MaintenanceService) RecomputeTenantStats(ctx context.Context, tenantID string, staleHours int, lowBatt float64) (*domain.TenantStats, error) {
	staleCutoff := s.now().UTC().Add(-time.Duration(staleHours) * time.Hour)
	stats, err := s.stats.ComputeTenantStats(ctx, tenantID, staleCutoff, lowBatt)
	if err != nil {
		return nil, err
	}
	stats.StaleMs = int64(staleHours) * 60 * 60 * 1000
	if err := s.stats.UpsertTenantStats(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// RecomputeAllTenantStats runs the rollup for every tenant; a failing
// tenant is logged and skipped so one bad tenant cannot starve the
// rest.
func (s *MaintenanceService) RecomputeAllTenantStats(ctx context.Context, staleHours int, lowBatt float64) ([]string, error) {
	tenants, err := s.stats.ListTenantIDs(ctx)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, tenantID := range tenants {
		if _, err := s.RecomputeTenantStats(ctx, tenantID, staleHours, lowBatt); err != nil {
			s.logger.Warn("tenant stats rollup failed",
				zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		done = append(done, tenantID)
	}
	return done, nil
}
