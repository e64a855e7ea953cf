package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeAnalyzeApplication = "application:analyze"
	TypeExpireAnalyses     = "application:expire_analyses"
)

// QueueAnalysis 是分析任务所在的队列。
const QueueAnalysis = "analysis"

// AnalyzePayload 描述一次分析运行。Epoch 必须与申请当前的 analysis epoch 一致，否则结果被丢弃。
type AnalyzePayload struct {
	ApplicationID string `json:"application_id"`
	Epoch         uint64 `json:"epoch"`
	CorrelationID string `json:"correlation_id"`
}

// NewAnalyzeTask 构造分析任务。TaskID 按 (application, epoch) 去重，重复投递会被 asynq 拒绝。
func NewAnalyzeTask(applicationID string, epoch uint64, correlationID string, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(AnalyzePayload{
		ApplicationID: applicationID,
		Epoch:         epoch,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueAnalysis),
		asynq.MaxRetry(3),
		asynq.TaskID(fmt.Sprintf("analyze:%s:%d", applicationID, epoch)),
	}
	if timeout > 0 {
		// 留出落库的余量。
		opts = append(opts, asynq.Timeout(timeout+30*time.Second))
	}
	return asynq.NewTask(TypeAnalyzeApplication, payload, opts...), nil
}

// ExpirePayload 配置过期清理的阈值。
type ExpirePayload struct {
	MaxAgeSeconds int64 `json:"max_age_seconds"`
}

// MaxAge returns the threshold as a duration.
func (p ExpirePayload) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeSeconds) * time.Second
}

// NewExpireTask 构造周期性的过期清理任务。
func NewExpireTask(maxAge time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(ExpirePayload{MaxAgeSeconds: int64(maxAge / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExpireAnalyses, payload, asynq.MaxRetry(0)), nil
}
