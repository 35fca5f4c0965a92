// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

func (s *ChatService) StartRetentionScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: purge expired chat transcripts
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if err := s.RunRetentionSweep(context.Background()); err != nil {
				log.Printf("[Scheduler] Chat retention sweep failed: %v", err)
			}
		}),
	)
}
