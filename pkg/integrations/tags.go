package integrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const tagKeyPrefix = "drip:tags:"

// RedisTagStore keeps subject tag sets in Redis, one set per (company, subject). Tags are
// compared case-insensitively.
type RedisTagStore struct {
	client redis.UniversalClient
}

func NewRedisTagStore(client redis.UniversalClient) *RedisTagStore {
	return &RedisTagStore{client: client}
}

func tagKey(companyID, subjectID string) string {
	return tagKeyPrefix + companyID + ":" + subjectID
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func (s *RedisTagStore) AddTag(ctx context.Context, companyID, subjectID, tag string) error {
	if err := s.client.SAdd(ctx, tagKey(companyID, subjectID), normalizeTag(tag)).Err(); err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}

	return nil
}

func (s *RedisTagStore) RemoveTag(ctx context.Context, companyID, subjectID, tag string) error {
	if err := s.client.SRem(ctx, tagKey(companyID, subjectID), normalizeTag(tag)).Err(); err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}

	return nil
}

func (s *RedisTagStore) HasTag(ctx context.Context, companyID, subjectID, tag string) (bool, error) {
	has, err := s.client.SIsMember(ctx, tagKey(companyID, subjectID), normalizeTag(tag)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up tag: %w", err)
	}

	return has, nil
}

// Tags returns the subject's tags.
func (s *RedisTagStore) Tags(ctx context.Context, companyID, subjectID string) ([]string, error) {
	tags, err := s.client.SMembers(ctx, tagKey(companyID, subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	return tags, nil
}

// ContextTagStore accepts tag mutations without persisting them; the tag set lives only in
// each execution's context. Used when no CRM tag store is configured.
type ContextTagStore struct{}

func (ContextTagStore) AddTag(context.Context, string, string, string) error    { return nil }
func (ContextTagStore) RemoveTag(context.Context, string, string, string) error { return nil }
