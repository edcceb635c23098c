package schedule

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/bedrock-data/conveyor/lib/config"
	"github.com/bedrock-data/conveyor/queue"
)

// Poller walks the configured schedules once a minute, queues a ledger run
// for every schedule whose window opened, and puts the payload on the queue.
// The run is queued before the enqueue so the next tick sees it as pending
// and cannot fire the same day twice.
type Poller struct {
	cron      *cron.Cron
	schedules []*DailyTimeSchedule
	ledger    Ledger
	queue     queue.Queue
}

func NewPoller(cfgs []config.Schedule, ledger Ledger, q queue.Queue) *Poller {
	schedules := make([]*DailyTimeSchedule, len(cfgs))
	for i, cfg := range cfgs {
		schedules[i] = NewDailyTimeSchedule(cfg)
	}

	return &Poller{
		cron:      cron.New(),
		schedules: schedules,
		ledger:    ledger,
		queue:     q,
	}
}

func (p *Poller) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc("* * * * *", func() { p.tick(ctx) }); err != nil {
		return err
	}

	p.cron.Start()
	go func() {
		<-ctx.Done()
		p.cron.Stop()
	}()
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	for _, s := range p.schedules {
		ready, err := s.Ready(p.ledger)
		if err != nil {
			slog.Error("Failed to evaluate a schedule",
				slog.String("jobID", s.JobID), slog.Any("err", err))
			continue
		}
		if !ready {
			continue
		}

		if err = p.fire(ctx, s); err != nil {
			slog.Error("Failed to fire a schedule",
				slog.String("jobID", s.JobID), slog.Any("err", err))
		}
	}
}

func (p *Poller) fire(ctx context.Context, s *DailyTimeSchedule) error {
	payload := s.Payload()

	// The ledger row carries the same batch encoding the worker derives, so
	// the execution picks this run back up instead of creating another.
	batchJSON, err := s.batchJSON()
	if err != nil {
		return err
	}

	run, err := p.ledger.CreateForJob(s.JobID, batchJSON)
	if err != nil {
		return err
	}
	if err = p.ledger.Queued(run); err != nil {
		return err
	}

	encoded, err := payload.Encode()
	if err != nil {
		return err
	}
	if err = p.queue.Enqueue(ctx, encoded); err != nil {
		return err
	}

	slog.Info("Enqueued a scheduled job",
		slog.String("jobID", s.JobID), slog.String("batch", batchJSON))
	return nil
}
