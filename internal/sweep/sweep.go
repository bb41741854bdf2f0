// internal/sweep/sweep.go
package sweep

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the hub's maintenance pass on a cron schedule: stale sessions,
// expired locks, expired connection requests, old messages. Everything it
// sweeps also expires lazily on access, so a missed run costs nothing.
type Sweeper struct {
	schedule string
	maintain func()
	cron     *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a sweeper that calls maintain on the given schedule.
func New(schedule string, maintain func()) *Sweeper {
	return &Sweeper{
		schedule: schedule,
		maintain: maintain,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the schedule and starts the ticker.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		slog.Debug("maintenance sweep firing", "schedule", s.schedule)
		s.maintain()
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("maintenance sweep scheduled", "schedule", s.schedule)
	return nil
}

// Stop stops the ticker; an in-flight sweep finishes.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}
