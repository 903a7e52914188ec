package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthCheckJob pings a dependency, typically the database, so outages show up in the logs
// between keeper cycles.
type HealthCheckJob struct {
	log     zerolog.Logger
	check   func(ctx context.Context) error
	timeout time.Duration
}

// NewHealthCheckJob creates a health check job around check.
func NewHealthCheckJob(log zerolog.Logger, check func(ctx context.Context) error, timeout time.Duration) *HealthCheckJob {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthCheckJob{
		log:     log.With().Str("job", "health_check").Logger(),
		check:   check,
		timeout: timeout,
	}
}

// Name returns the job name
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run executes the check
func (j *HealthCheckJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	if err := j.check(ctx); err != nil {
		j.log.Error().Err(err).Msg("Health check failed")
		return err
	}
	j.log.Debug().Dur("took", time.Since(start)).Msg("Health check passed")
	return nil
}
