package cron

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atabat-scraper/internal/models"
)

type stubRefresher struct {
	res   models.RefreshResult
	calls int
}

func (s *stubRefresher) RefreshOTP(context.Context) models.RefreshResult {
	s.calls++
	return s.res
}

func TestHandler_FailureIsNotATaskError(t *testing.T) {
	r := &stubRefresher{res: models.RefreshResult{NewOTP: "12345", Error: "AUTH_OTP_REJECTED: کد نامعتبر است"}}
	mux := NewServeMux(r, zap.NewNop())

	err := mux.ProcessTask(context.Background(), asynq.NewTask(TypeOTPRefresh, nil))
	assert.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

func TestHandler_Success(t *testing.T) {
	r := &stubRefresher{res: models.RefreshResult{Success: true, NewOTP: "54321"}}
	err := handleOTPRefresh(r, zap.NewNop())(context.Background(), NewOTPRefreshTask())
	assert.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

func TestEncodeResult(t *testing.T) {
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(encodeResult(models.RefreshResult{Success: false, NewOTP: "12345", Error: "boom"}), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "12345", got["newOTP"])
	assert.Equal(t, "boom", got["error"])

	var ok map[string]interface{}
	require.NoError(t, json.Unmarshal(encodeResult(models.RefreshResult{Success: true}), &ok))
	assert.Equal(t, true, ok["success"])
	assert.NotContains(t, ok, "newOTP")
}

func TestNewOTPRefreshTask(t *testing.T) {
	task := NewOTPRefreshTask()
	assert.Equal(t, TypeOTPRefresh, task.Type())
	assert.Empty(t, task.Payload())
}
