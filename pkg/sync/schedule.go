package sync

import (
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/cloudsave/pkg/errors"
)

// Scheduler posts change signals on a cron schedule, so that backups are
// also taken when the watcher misses a change.
type Scheduler struct {
	cron *cron.Cron
}

// StartScheduler calls post on the given schedule. The schedule uses the
// standard five field cron format, or descriptors such as `@every 1h`.
func StartScheduler(spec string, post func()) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		log.Debug("Scheduled backup")
		post()
	})
	if err != nil {
		return nil, errors.NewFriendlyError("The backup schedule %q is invalid: %s", spec, err)
	}

	c.Start()
	return &Scheduler{cron: c}, nil
}

// Stop stops the schedule, and waits for a running call to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
