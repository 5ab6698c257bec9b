package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/executor"
	jobmetrics "github.com/odyssey-erp/odyssey-edge/internal/jobs"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Invoker runs a logic unit by path.
type Invoker interface {
	Invoke(ctx context.Context, path string, params map[string]any, user *auth.UserInfo, req executor.RequestInfo) (any, error)
}

// LogicInvokeJob executes deferred invocations for one tenant.
type LogicInvokeJob struct {
	Tenant  string
	Invoker Invoker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewLogicInvokeJob wires dependencies for the invoke handler.
func NewLogicInvokeJob(tenant string, invoker Invoker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LogicInvokeJob {
	return &LogicInvokeJob{Tenant: tenant, Invoker: invoker, Logger: logger, Metrics: metrics, Timeout: time.Minute}
}

// Handle processes TaskLogicInvoke tasks. Domain rejections are not retried.
func (j *LogicInvokeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invoker == nil {
		return errors.New("logic invoke: handler not configured")
	}
	var payload InvokePayload
	dec := json.NewDecoder(bytes.NewReader(t.Payload()))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		j.metrics().Skip(TaskLogicInvoke, "payload")
		return asynq.SkipRetry
	}
	logger := j.logger().With(slog.String("unit", payload.Path), slog.String("request_id", payload.RequestID))
	if payload.Tenant != j.Tenant {
		j.metrics().Skip(TaskLogicInvoke, "tenant")
		logger.Warn("skip task of another tenant", slog.String("tenant", payload.Tenant))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLogicInvoke)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	_, err := j.Invoker.Invoke(runCtx, payload.Path, payload.Params, payload.User.User(), executor.RequestInfo{
		Method:    TaskLogicInvoke,
		Path:      "/" + payload.Path,
		RequestID: payload.RequestID,
	})
	if err != nil {
		resultErr = err
		logger.Error("deferred invocation failed", slog.Any("error", err))
		if httpx.Classify(err).Code < 500 {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return resultErr
	}
	logger.Info("deferred invocation completed", slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *LogicInvokeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLogicInvoke))
	}
	return slog.Default().With(slog.String("job", TaskLogicInvoke))
}

func (j *LogicInvokeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
