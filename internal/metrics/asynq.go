package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes. skipped 表示处理器返回了 asynq.SkipRetry，任务不会再被投递。
const (
	TaskSucceeded = "succeeded"
	TaskRetried   = "retried"
	TaskSkipped   = "skipped"
)

var (
	taskProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentflex",
			Subsystem: "asynq",
			Name:      "tasks_processed_total",
			Help:      "Processed tasks by type, queue and outcome.",
		},
		[]string{"task_type", "queue", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "talentflex",
			Subsystem: "asynq",
			Name:      "task_duration_seconds",
			Help:      "Task handler latency by type and queue.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"task_type", "queue"},
	)

	taskInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "talentflex",
			Subsystem: "asynq",
			Name:      "tasks_in_progress",
			Help:      "Tasks currently being processed.",
		},
		[]string{"task_type", "queue"},
	)
)

// AsynqMetricsMiddleware 按任务类型与队列记录处理结果和耗时。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			queue, ok := asynq.GetQueueName(ctx)
			if !ok {
				queue = "unknown"
			}
			taskInProgress.WithLabelValues(taskType, queue).Inc()
			defer taskInProgress.WithLabelValues(taskType, queue).Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(taskType, queue).Observe(time.Since(start).Seconds())
			taskProcessedTotal.WithLabelValues(taskType, queue, taskOutcome(err)).Inc()

			return err
		})
	}
}

func taskOutcome(err error) string {
	switch {
	case err == nil:
		return TaskSucceeded
	case errors.Is(err, asynq.SkipRetry):
		return TaskSkipped
	default:
		return TaskRetried
	}
}
