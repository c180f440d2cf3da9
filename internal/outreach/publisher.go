package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisPublisher is the part of *redis.Client the publisher uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher sends commands to the mail workers over Redis pub/sub.
type Publisher struct {
	rdb    redisPublisher
	logger *zap.Logger
}

var (
	_ Sender   = (*Publisher)(nil)
	_ Notifier = (*Publisher)(nil)
)

func NewPublisher(rdb redisPublisher, logger *zap.Logger) (*Publisher, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{rdb: rdb, logger: logger}, nil
}

func (p *Publisher) SendApplication(ctx context.Context, msg Application) error {
	if msg.To == "" {
		return fmt.Errorf("job %s: no recipient", msg.JobID)
	}
	return p.publish(ctx, ChannelApplication, msg)
}

func (p *Publisher) SendRunSummary(ctx context.Context, msg RunSummary) error {
	if msg.To == "" {
		p.logger.Info("candidate has no email; summary not sent", zap.String("candidate_id", msg.CandidateID))
		return nil
	}
	return p.publish(ctx, ChannelRunSummary, msg)
}

func (p *Publisher) publish(ctx context.Context, channel string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", channel, err)
	}

	receivers, err := p.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publishing %s: %w", channel, err)
	}
	if receivers == 0 {
		p.logger.Warn("no subscribers received the command", zap.String("channel", channel))
	}
	return nil
}

// LogSender only logs what would have been published. It is used when Redis is not configured.
type LogSender struct {
	logger *zap.Logger
}

var (
	_ Sender   = (*LogSender)(nil)
	_ Notifier = (*LogSender)(nil)
)

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendApplication(_ context.Context, msg Application) error {
	s.logger.Info("application not delivered, no transport configured",
		zap.String("job_id", msg.JobID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

func (s *LogSender) SendRunSummary(_ context.Context, msg RunSummary) error {
	s.logger.Info("run summary not delivered, no transport configured",
		zap.String("candidate_id", msg.CandidateID),
		zap.Int("total", msg.Total),
		zap.Any("by_category", msg.ByCategory),
	)
	return nil
}
