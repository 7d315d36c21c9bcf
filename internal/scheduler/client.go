package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	feeddomain "leadpipeline_backend/internal/feed/domain"
	handoverdomain "leadpipeline_backend/internal/handover/domain"
	"leadpipeline_backend/platform/config"
)

const (
	defaultQueue     = "default"
	defaultMaxRetry    = 5
	statusMaxRetry   = 8
	retryTaskRetries = 3
)

// Client enqueues work on the Redis-backed asynq queue.
type Client struct {
	client *asynq.Client
	queue  string
}

var _ Dispatcher = (*Client)(nil)

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := clientOpt(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueIngest(ctx context.Context, raw feeddomain.RawDocument) error {
	task, err := newTask(TaskIngestLead, ingestPayloadFrom(raw))
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(defaultMaxRetry))
	return err
}

func (c *Client) EnqueueHandoverReady(ctx context.Context, ev handoverdomain.ReadyForHandover) error {
	task, err := newTask[HandoverReadyPayload](TaskHandoverReady, ev)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(defaultMaxRetry))
	return err
}

// ScheduleDeliveryRetry enqueues the retry under a task id derived from the
// handover, so scheduling twice still yields one task.
func (c *Client) ScheduleDeliveryRetry(ctx context.Context, handoverID uuid.UUID, runAt time.Time) error {
	task, err := newTask(TaskDeliveryRetry, DeliveryRetryPayload{HandoverID: handoverID.String()})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(runAt),
		asynq.Queue(c.queue),
		asynq.TaskID("delivery-retry:"+handoverID.String()),
		asynq.MaxRetry(retryTaskRetries),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) EnqueueDeliveryStatus(ctx context.Context, provider string, body []byte) error {
	task, err := newTask(TaskDeliveryStatus, DeliveryStatusPayload{Provider: provider, Body: body})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(statusMaxRetry))
	return err
}

// NewRedisClient opens a go-redis client on the scheduler's Redis URL. The
// delivery callback deduper shares it.
func NewRedisClient(cfg config.SchedulerConfig) (*redis.Client, error) {
	opt, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func clientOpt(cfg config.SchedulerConfig) (asynq.RedisClientOpt, error) {
	opt, err := redisOptions(cfg)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

func redisOptions(cfg config.SchedulerConfig) (*redis.Options, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	tlsInsecure := cfg.GetRedisTLSInsecure()
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if tlsInsecure {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opt, nil
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return defaultQueue
}
