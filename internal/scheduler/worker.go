package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"leadpipeline_backend/platform/apperr"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/logger"
)

// Worker consumes the asynq queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	procs  Processors
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, procs Processors, log *logger.Logger) (*Worker, error) {
	opt, err := clientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		Logger: asynqLogger{log: log},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		procs:  procs,
		log:    log,
	}

	mux.HandleFunc(TaskIngestLead, w.handleIngestLead)
	mux.HandleFunc(TaskHandoverReady, w.handleHandoverReady)
	mux.HandleFunc(TaskDeliveryRetry, w.handleDeliveryRetry)
	mux.HandleFunc(TaskDeliveryStatus, w.handleDeliveryStatus)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleIngestLead(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[IngestLeadPayload](task)
	if err != nil {
		return skipRetry(err)
	}
	return w.procs.ingest(ctx, payload)
}

func (w *Worker) handleHandoverReady(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[HandoverReadyPayload](task)
	if err != nil {
		return skipRetry(err)
	}
	return permanentIfInvalid(w.procs.handoverReady(ctx, payload))
}

func (w *Worker) handleDeliveryRetry(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[DeliveryRetryPayload](task)
	if err != nil {
		return skipRetry(err)
	}
	return permanentIfInvalid(w.procs.deliveryRetry(ctx, payload))
}

func (w *Worker) handleDeliveryStatus(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[DeliveryStatusPayload](task)
	if err != nil {
		return skipRetry(err)
	}
	return w.procs.deliveryStatus(ctx, payload)
}

func skipRetry(err error) error {
	return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
}

// permanentIfInvalid stops asynq from retrying work that can never succeed.
func permanentIfInvalid(err error) error {
	if err == nil {
		return nil
	}
	if apperr.Is(err, apperr.KindValidation) || apperr.Is(err, apperr.KindNotFound) {
		return skipRetry(err)
	}
	return err
}

// asynqLogger routes asynq's own logging through the application logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
