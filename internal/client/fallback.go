package client

import (
	"context"

	"go.uber.org/zap"

	"walletpass-service/internal/model"
)

// LogPublisher stands in for Kafka when event streaming is disabled.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event model.PassEvent) error {
	p.logger.Debug("Pass event",
		zap.String("type", string(event.Type)),
		zap.String("pass_id", event.PassID),
		zap.String("platform", string(event.Platform)))
	return nil
}

// LogRecorder stands in for ClickHouse when analytics are disabled.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordDetection(ctx context.Context, record model.DetectionRecord) error {
	r.logger.Debug("Platform detection recorded",
		zap.String("pass_id", record.PassID),
		zap.String("platform", string(record.Result.Platform)),
		zap.Bool("low_confidence", record.LowConfidence))
	return nil
}
