package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/signage/screen-pairing-server/internal/redis"
)

// Publisher fans device events out over Redis pub/sub, one channel per account.
type Publisher struct {
	redis  *redisclient.Client
	source string
	now    func() time.Time
}

func NewPublisher(redisClient *redisclient.Client, source string) *Publisher {
	return &Publisher{
		redis:  redisClient,
		source: source,
		now:    time.Now,
	}
}

func (p *Publisher) Publish(ctx context.Context, accountID string, eventType Type, subject string, payload any) error {
	e, err := Build(p.source, eventType, accountID, subject, p.now(), payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	channel := redisclient.DeviceEventsChannel(accountID)
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	log.Debug().
		Str("type", string(eventType)).
		Str("channel", channel).
		Str("subject", subject).
		Msg("event published")

	return nil
}
