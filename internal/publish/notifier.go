package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hlxstats/ingressd/internal/action"
)

// RewardNotifier hands reward notifications to the in-game messaging
// service over a Redis Stream. Delivery to the game server itself (RCON
// say) is that service's job.
type RewardNotifier struct {
	client *redis.Client
	stream string
}

func NewRewardNotifier(client *redis.Client, stream string) *RewardNotifier {
	return &RewardNotifier{client: client, stream: stream}
}

func (n *RewardNotifier) NotifyReward(ctx context.Context, r action.RewardNotification) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reward notification: %w", err)
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: 100_000,
		Approx: true,
		Values: map[string]any{
			"notification": payload,
			"serverId":     r.ServerID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", n.stream, err)
	}
	return nil
}
