package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidewise/gamepad-websocket/internal/domain"
)

const statisticsTTL = 30 * time.Second

// StatisticsStore keeps the latest statistics snapshot under a single key so
// other processes can read it without subscribing. The key expires when the
// publisher stops writing.
type StatisticsStore struct {
	client *Client
	key    string
}

var _ domain.StatisticsSink = (*StatisticsStore)(nil)

func NewStatisticsStore(client *Client, key string) *StatisticsStore {
	return &StatisticsStore{client: client, key: key}
}

func (s *StatisticsStore) WriteStatistics(ctx context.Context, stats domain.Statistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	if err := s.client.rdb.Set(ctx, s.key, data, statisticsTTL).Err(); err != nil {
		return fmt.Errorf("failed to store statistics: %w", err)
	}
	return nil
}

// Latest returns the stored snapshot; ok is false when none is stored.
func (s *StatisticsStore) Latest(ctx context.Context) (stats domain.Statistics, ok bool, err error) {
	data, err := s.client.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Statistics{}, false, nil
	}
	if err != nil {
		return domain.Statistics{}, false, fmt.Errorf("failed to read statistics: %w", err)
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.Statistics{}, false, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return stats, true, nil
}
