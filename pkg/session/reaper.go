package session

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper deletes expired sessions on a cron schedule.
type Reaper struct {
	store Store
	cron  *cron.Cron
}

// NewReaper builds a reaper over the store. schedule is a cron expression;
// empty defaults to hourly.
func NewReaper(store Store, schedule string) (*Reaper, error) {
	if schedule == "" {
		schedule = "@every 1h"
	}
	r := &Reaper{store: store, cron: cron.New()}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start launches the schedule.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ids, err := r.store.ListExpired(ctx, time.Now())
	if err != nil {
		log.Printf("session: reaper list: %v", err)
		return
	}
	for _, id := range ids {
		if err := r.store.Delete(ctx, id); err != nil {
			log.Printf("session: reaper delete %s: %v", id, err)
		}
	}
}

// Sweep runs one pass immediately, for callers that manage their own timers.
func (r *Reaper) Sweep() { r.sweep() }
