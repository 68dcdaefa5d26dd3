package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RobfigCronEngine adapts robfig/cron/v3 to the CronEngine interface.
// Panicking jobs are recovered and a job still running at its next tick is skipped.
type RobfigCronEngine struct {
	c *cron.Cron
}

// NewRobfigCronEngine creates a cron engine that accepts standard 5-field
// specs and descriptors such as "@every 5m".
func NewRobfigCronEngine(logger zerolog.Logger) *RobfigCronEngine {
	cl := cronLogger{logger}
	return &RobfigCronEngine{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// AddFunc adds a function to be called on the given schedule.
func (r *RobfigCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	id, err := r.c.AddFunc(spec, cmd)
	return int(id), err
}

func (r *RobfigCronEngine) Remove(id int) {
	r.c.Remove(cron.EntryID(id))
}

// Start begins the cron scheduler in its own goroutine.
func (r *RobfigCronEngine) Start() {
	r.c.Start()
}

func (r *RobfigCronEngine) Stop() context.Context {
	return r.c.Stop()
}

// cronLogger routes robfig/cron's logr-style logging to zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
