package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// DefaultResultSubject carries terminal job results.
const DefaultResultSubject = "dataexec.jobs.results"

type Client struct {
	nc      *nats.Conn
	subject string
}

func Connect(url, subject string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("dataexec"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = DefaultResultSubject
	}
	return &Client{nc: nc, subject: subject}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// JobFinished publishes a terminal result. Failures are logged only.
func (c *Client) JobFinished(ctx context.Context, result *domain.JobResult) {
	if err := c.PublishJSON(c.subject, result); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to publish result of job %s", result.JobID)
	}
}

func (c *Client) SubscribeResults(handler func(ctx context.Context, result *domain.JobResult)) (*nats.Subscription, error) {
	return c.nc.Subscribe(c.subject, func(msg *nats.Msg) {
		var result domain.JobResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			logger.Warn("dropping malformed result message: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		handler(ctx, &result)
	})
}
