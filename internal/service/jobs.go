package service

import (
	"context"
	"log"

	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/queue"
)

// RegisterHandlers wires the job types to their handlers.
func RegisterHandlers(r *queue.Runner, w *BatchWorker, capacity *CapacityService) {
	r.Handle(queue.JobTypeBatch, func(ctx context.Context, job *model.Job) error {
		var p BatchPayload
		if err := queue.DecodePayload(job, &p); err != nil {
			return err
		}
		_, err := w.Process(ctx, p)
		return err
	})

	r.Handle(queue.JobTypeSingleSend, func(ctx context.Context, job *model.Job) error {
		var p SingleSendPayload
		if err := queue.DecodePayload(job, &p); err != nil {
			return err
		}
		return w.SendSingle(ctx, p)
	})

	r.Handle(queue.JobTypeWarmupSweep, func(ctx context.Context, job *model.Job) error {
		n, err := capacity.SweepWarmups(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("✅ warm-up sweep completed %d domains", n)
		}
		return nil
	})
}

// EnqueueWarmupSweep queues one sweep job.
func EnqueueWarmupSweep(ctx context.Context, q queue.Queue) error {
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{Type: queue.JobTypeWarmupSweep, Payload: struct{}{}})
	return err
}
