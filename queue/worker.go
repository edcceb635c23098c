package queue

import (
	"context"
	"log/slog"

	"github.com/bedrock-data/conveyor/jobs"
)

// Worker pulls job payloads off a queue and hands them to a runner. Every
// message is acked exactly once, whether it ran, failed, or could not even
// be decoded, a poisoned payload must not be redelivered forever.
type Worker struct {
	queue Queue
	run   func(payload jobs.Payload) error
}

func NewWorker(queue Queue, run func(payload jobs.Payload) error) *Worker {
	return &Worker{queue: queue, run: run}
}

func (w *Worker) Start(ctx context.Context) error {
	return w.queue.ProcessAsync(ctx, func(msg MessageInfo) error {
		w.handle(ctx, msg)
		return nil
	})
}

func (w *Worker) handle(ctx context.Context, msg MessageInfo) {
	payload, err := jobs.DecodePayload(msg.Body)
	if err != nil {
		slog.Error("Dropping an undecodable queue message", slog.Any("err", err))
	} else if err = w.run(payload); err != nil {
		slog.Error("Job execution failed",
			slog.String("jobID", payload.JobID), slog.Any("err", err))
	}

	if err = w.queue.Ack(ctx, msg); err != nil {
		slog.Error("Failed to ack a queue message", slog.Any("err", err))
	}
}
