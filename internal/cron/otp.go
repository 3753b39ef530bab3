// Package cron runs the daily OTP refresh on an asynq scheduler and worker.
package cron

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"atabat-scraper/internal/config"
	"atabat-scraper/internal/models"
)

const (
	TypeOTPRefresh = "otp:refresh"
	QueueNightly   = "nightly"

	// DefaultSchedule is midnight Tehran, when the portal rotates the OTP.
	DefaultSchedule = "0 0 * * *"
)

// Refresher performs one OTP refresh.
type Refresher interface {
	RefreshOTP(ctx context.Context) models.RefreshResult
}

func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewOTPRefreshTask is never retried: a second login the same night would
// burn CAPTCHA attempts for an OTP that is already stored.
func NewOTPRefreshTask() *asynq.Task {
	return asynq.NewTask(TypeOTPRefresh, nil,
		asynq.Queue(QueueNightly),
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
	)
}

func encodeResult(res models.RefreshResult) []byte {
	b, err := json.Marshal(res)
	if err != nil {
		return []byte(`{"success":false}`)
	}
	return b
}

// handleOTPRefresh records the outcome as the task result. Failures are data,
// so the handler itself always succeeds.
func handleOTPRefresh(r Refresher, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		log.Info("Starting OTP refresh")
		res := r.RefreshOTP(ctx)
		if res.Success {
			log.Info("OTP refresh completed")
		} else {
			log.Warn("OTP refresh failed", zap.String("error", res.Error))
		}
		if w := task.ResultWriter(); w != nil {
			if _, err := w.Write(encodeResult(res)); err != nil {
				log.Warn("Could not write task result", zap.Error(err))
			}
		}
		return nil
	}
}

func NewServeMux(r Refresher, log *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOTPRefresh, handleOTPRefresh(r, log))
	return mux
}
