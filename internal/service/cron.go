package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"attestation-core/internal/service/rates"
	"attestation-core/pkg/lock"
	"attestation-core/pkg/logger"
)

// CronService schedules the periodic sweeps. Every job takes a Redis
// lock first so only one instance runs it; the sweeps themselves are
// idempotent, the lock just avoids wasted provider calls.
type CronService struct {
	cron  *cron.Cron
	redis *redis.Client

	rates         *rates.Provider
	attestations  *AttestationService
	rewards       *RewardService
	verification  *VerificationService
	consolidation *ConsolidationService
}

func NewCronService(rdb *redis.Client, rp *rates.Provider, attestations *AttestationService,
	rewards *RewardService, verification *VerificationService, consolidation *ConsolidationService) *CronService {
	return &CronService{
		cron:          cron.New(),
		redis:         rdb,
		rates:         rp,
		attestations:  attestations,
		rewards:       rewards,
		verification:  verification,
		consolidation: consolidation,
	}
}

func (s *CronService) Start() {
	_, _ = s.cron.AddFunc("@every 10s", s.job("retry_attestations", 10*time.Second, s.attestations.SweepAttestations))
	_, _ = s.cron.AddFunc("@every 10s", s.job("retry_rewards", 10*time.Second, s.rewards.SweepRewards))
	_, _ = s.cron.AddFunc("@every 60s", s.job("consolidate_funds", 60*time.Second, s.consolidation.Sweep))
	_, _ = s.cron.AddFunc("@every 60s", s.job("auth_checks", 60*time.Second, s.verification.SweepAuthChecks))
	_, _ = s.cron.AddFunc("@every 600s", s.job("status_polls", 600*time.Second, s.verification.SweepStatusChecks))
	_, _ = s.cron.AddFunc("@every 1m", s.job("sync_rates", 60*time.Second, func(ctx context.Context) {
		if err := s.rates.Refresh(ctx); err != nil {
			logger.Warn("exchange rate refresh failed", zap.Error(err))
		}
	}))

	s.cron.Start()
	logger.Info("Cron Service started")
}

func (s *CronService) Stop() {
	s.cron.Stop()
	logger.Info("Cron Service stopped")
}

func (s *CronService) job(name string, ttl time.Duration, run func(ctx context.Context)) func() {
	return func() {
		ctx := context.Background()
		lockKey := "cron:" + name

		locker := lock.NewRedisLock(s.redis)
		locked, err := locker.Acquire(ctx, lockKey, ttl)
		if err != nil || !locked {
			// another instance holds the lock, skip this round
			return
		}
		defer locker.Release(ctx, lockKey)

		run(ctx)
	}
}
