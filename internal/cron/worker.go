package cron

import (
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"atabat-scraper/internal/config"
	"atabat-scraper/internal/jalali"
)

// Worker owns the scheduler that enqueues the refresh and the server that
// runs it.
type Worker struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	schedule  string
	log       *zap.Logger
}

func NewWorker(cfg config.Config, r Refresher, log *zap.Logger) *Worker {
	log = log.Named("cron")
	redis := RedisOpt(cfg)
	schedule := cfg.OTPRefreshCron
	if schedule == "" {
		schedule = DefaultSchedule
	}

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: jalali.Tehran,
		Logger:   log.Sugar(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Error("Failed to enqueue scheduled task", zap.Error(err))
				return
			}
			log.Info("Scheduled task enqueued", zap.String("type", info.Type), zap.String("id", info.ID))
		},
	})
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueNightly: 1},
		Logger:      log.Sugar(),
	})

	return &Worker{
		scheduler: scheduler,
		server:    server,
		mux:       NewServeMux(r, log),
		schedule:  schedule,
		log:       log,
	}
}

// Start registers the refresh and starts both halves without blocking.
func (w *Worker) Start() error {
	id, err := w.scheduler.Register(w.schedule, NewOTPRefreshTask())
	if err != nil {
		return fmt.Errorf("failed to register otp refresh: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := w.server.Start(w.mux); err != nil {
		w.scheduler.Shutdown()
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.log.Info("OTP refresh scheduled", zap.String("cron", w.schedule), zap.String("entry", id))
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}

// Enqueue queues a refresh now, for the refresh-otp command.
func Enqueue(cfg config.Config) (*asynq.TaskInfo, error) {
	client := asynq.NewClient(RedisOpt(cfg))
	defer client.Close()
	return client.Enqueue(NewOTPRefreshTask())
}
