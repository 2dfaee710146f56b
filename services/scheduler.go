// services/scheduler.go
package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"trivia-settlement/models"
)

// StartSettlementScheduler sweeps once a minute: ended games get ranked,
// ranked games get published. Both calls are idempotent, so the sweep can
// coexist with the external trigger endpoints hitting the same games.
func (s *SettlementService) StartSettlementScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx := context.Background()
			now := time.Now()

			var toRank []models.TriviaGame
			if err := s.DB.Where("end_time <= ? AND ranked_at IS NULL", now).
				Find(&toRank).Error; err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, g := range toRank {
				if _, err := s.RankGameByID(ctx, g.ID); err != nil {
					if errors.Is(err, ErrNoEntries) {
						// Real absence of winners; nothing to retry.
						log.Printf("[Scheduler] Game %s ended with no paid entries", g.ID)
						continue
					}
					log.Printf("[Scheduler] Failed to rank game %s: %v", g.ID, err)
				} else {
					log.Printf("[Scheduler] Ranked game %s", g.ID)
				}
			}

			var toPublish []models.TriviaGame
			if err := s.DB.Where("ranked_at IS NOT NULL AND published_at IS NULL").
				Find(&toPublish).Error; err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, g := range toPublish {
				outcome, err := s.PublishGameByID(ctx, g.ID)
				if err != nil {
					// Publish failures are retryable; next sweep tries again.
					log.Printf("[Scheduler] Failed to publish game %s: %v", g.ID, err)
					continue
				}
				if outcome.NoWinners {
					log.Printf("[Scheduler] Game %s skipped: no winners to commit", g.ID)
				} else if outcome.Published && !outcome.AlreadyPublished {
					log.Printf("[Scheduler] Published game %s (tx: %s)", g.ID, outcome.TxHash)
				}
			}
		}),
	)
}
