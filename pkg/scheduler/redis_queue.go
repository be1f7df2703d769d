package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the sorted set holding pending resumptions.
const DefaultRedisKey = "drip:delays"

// RedisQueue keeps resumptions in a sorted set scored by resume time in unix milliseconds.
// Claiming removes the member, so with several workers each entry is handed to exactly one.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, due Due) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(due.ResumeAt.UnixMilli()),
		Member: member(due.CompanyID, due.ExecutionID),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push delay: %w", err)
	}

	return nil
}

func (q *RedisQueue) Remove(ctx context.Context, companyID, executionID string) error {
	if err := q.client.ZRem(ctx, q.key, member(companyID, executionID)).Err(); err != nil {
		return fmt.Errorf("failed to remove delay: %w", err)
	}

	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	members, err := q.client.ZRangeByScoreWithScores(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due delays: %w", err)
	}

	claimed := make([]Due, 0, len(members))

	for _, z := range members {
		value, ok := z.Member.(string)
		if !ok {
			continue
		}

		removed, err := q.client.ZRem(ctx, q.key, value).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim delay: %w", err)
		}

		if removed == 0 {
			// another worker got it first
			continue
		}

		companyID, executionID, err := parseMember(value)
		if err != nil {
			continue
		}

		claimed = append(claimed, Due{
			CompanyID:   companyID,
			ExecutionID: executionID,
			ResumeAt:    time.UnixMilli(int64(z.Score)).UTC(),
		})
	}

	return claimed, nil
}

var errBadMember = errors.New("malformed delay member")

func member(companyID, executionID string) string {
	return companyID + "|" + executionID
}

func parseMember(value string) (string, string, error) {
	i := strings.LastIndex(value, "|")
	if i <= 0 || i == len(value)-1 {
		return "", "", fmt.Errorf("%w: %q", errBadMember, value)
	}

	return value[:i], value[i+1:], nil
}
