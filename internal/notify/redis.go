package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/ironsheep/babelia-scout/internal/cascade"
)

// DefaultChannel is the pub/sub channel alerts are published on.
const DefaultChannel = "babelia:discoveries"

// Message is the JSON payload published for every alert.
type Message struct {
	Coordinate string                `json:"coordinate"`
	URL        string                `json:"url"`
	Score      float64               `json:"score"`
	TopPrompt  string                `json:"top_prompt"`
	SavedPath  string                `json:"saved_path"`
	CreatedAt  time.Time             `json:"created_at"`
	RunID      string                `json:"run_id"`
	Stages     []cascade.StageResult `json:"stages"`
	Sampled    int64                 `json:"sampled"`
	Rate       float64               `json:"discovery_rate_pct"`
}

// NewMessage flattens a.
func NewMessage(a Alert) Message {
	d := a.Discovery
	return Message{
		Coordinate: d.Coord.Key(),
		URL:        d.Coord.URL(a.BaseURL),
		Score:      d.FinalScore,
		TopPrompt:  d.TopPrompt,
		SavedPath:  d.SavedPath,
		CreatedAt:  d.CreatedAt,
		RunID:      d.RunID,
		Stages:     d.Stages,
		Sampled:    a.Stats.Sampled,
		Rate:       a.Stats.DiscoveryRate(),
	}
}

// Redis publishes alerts on a pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis publishes on channel, DefaultChannel when empty.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Notify implements Notifier.
func (r *Redis) Notify(ctx context.Context, a Alert) error {
	payload, err := sonic.Marshal(NewMessage(a))
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}
