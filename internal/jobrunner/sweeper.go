package jobrunner

import (
	"time"

	"github.com/rs/zerolog"
)

// ArchiveSweeper retires terminal task records once their archive TTL has
// elapsed. It satisfies scheduler.Job and never touches live game
// objects.
type ArchiveSweeper struct {
	pool *Pool
	log  zerolog.Logger
}

// NewArchiveSweeper creates a sweeper over pool's archived tasks.
func NewArchiveSweeper(pool *Pool, log zerolog.Logger) *ArchiveSweeper {
	return &ArchiveSweeper{pool: pool, log: log.With().Str("job", "task-archive-sweep").Logger()}
}

func (s *ArchiveSweeper) Name() string { return "task-archive-sweep" }

func (s *ArchiveSweeper) Run() error {
	if n := s.pool.SweepArchived(time.Now()); n > 0 {
		s.log.Debug().Int("swept", n).Msg("archived tasks swept")
	}
	return nil
}
