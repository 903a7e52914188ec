package riskfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/types"
)

// hashClient is the part of *redis.Client the feed uses.
type hashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// RedisFeed reads the snapshot from a Redis hash: one field per strategy id, each value the JSON
// encoding of types.RiskComponents.
type RedisFeed struct {
	client hashClient
	key    string
	log    zerolog.Logger
}

// NewRedisFeed connects to addr and reads from the hash at key.
func NewRedisFeed(addr, key string) *RedisFeed {
	return newRedisFeed(redis.NewClient(&redis.Options{Addr: addr}), key)
}

func newRedisFeed(client hashClient, key string) *RedisFeed {
	return &RedisFeed{
		client: client,
		key:    key,
		log:    logger.GetForComponent("risk_feed").With().Str("key", key).Logger(),
	}
}

// Latest decodes every field of the hash. Undecodable entries are skipped so one bad publisher
// does not blind the gate to every other strategy.
func (f *RedisFeed) Latest(ctx context.Context) (map[types.StrategyID]types.RiskComponents, error) {
	result := f.client.HGetAll(ctx, f.key)
	if err := result.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read risk snapshot: %w", err)
	}

	out := make(map[types.StrategyID]types.RiskComponents, len(result.Val()))
	for field, raw := range result.Val() {
		var c types.RiskComponents
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			f.log.Warn().Err(err).Str("strategy", field).Msg("Skipping undecodable risk components")
			continue
		}
		out[types.StrategyID(field)] = c
	}
	f.log.Debug().Int("strategies", len(out)).Msg("Risk snapshot read")
	return out, nil
}

// Publish writes one strategy's components. Operators use it to seed or override the snapshot.
func (f *RedisFeed) Publish(ctx context.Context, id types.StrategyID, c types.RiskComponents) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode risk components: %w", err)
	}
	if err := f.client.HSet(ctx, f.key, string(id), string(raw)).Err(); err != nil {
		return fmt.Errorf("publish risk components for %s: %w", id, err)
	}
	return nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
