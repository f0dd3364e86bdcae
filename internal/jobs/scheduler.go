package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler wraps the background jobs that keep the daemon fresh: capture
// polls per source and a periodic store health check.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates an empty scheduler with second-level precision.
func NewScheduler() (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: scheduler}, nil
}

// AddInterval registers fn to run every interval. Runs do not overlap.
func (s *Scheduler) AddInterval(name string, interval time.Duration, fn func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}
	log.Printf("⏰ [SCHEDULER] Registered job '%s' every %v", name, interval)
	return nil
}

// Start begins running all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	log.Printf("✅ [SCHEDULER] Started with %d jobs", len(s.scheduler.Jobs()))
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	log.Println("⏹️  [SCHEDULER] Stopping...")
	return s.scheduler.Shutdown()
}
