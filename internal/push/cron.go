package push

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "muezzin/internal/log"
)

// DefaultRollover invalidates at local midnight so the new day's schedule
// is loaded even when nothing else changes.
const DefaultRollover = "0 0 * * *"

// Cron invalidates on standard five-field cron expressions.
type Cron struct {
	specs []string
	loc   *time.Location
}

// NewCron validates specs up front so bad config fails at startup.
func NewCron(loc *time.Location, specs ...string) (*Cron, error) {
	if loc == nil {
		loc = time.Local
	}
	for _, spec := range specs {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("cron %q: %w", spec, err)
		}
	}
	return &Cron{specs: specs, loc: loc}, nil
}

func (c *Cron) Name() string { return "cron" }

func (c *Cron) Run(ctx context.Context, notify func(reason string)) error {
	sched := cron.New(cron.WithLocation(c.loc))
	for _, spec := range c.specs {
		if _, err := sched.AddFunc(spec, func() { notify(spec) }); err != nil {
			return err
		}
	}
	appLog.Debug("cron source scheduled", "entries", len(c.specs), "location", c.loc.String())

	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}
