package search

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var allActions = []Action{ActionLike, ActionDislike, ActionFlag}

// RedisActions keeps one Redis set of user ids per annotation and action.
type RedisActions struct {
	client *redis.Client
	prefix string
}

// NewRedisActions connects to redisURL and checks it is reachable.
func NewRedisActions(redisURL string) (*RedisActions, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisActionsWithClient(client), nil
}

func NewRedisActionsWithClient(client *redis.Client) *RedisActions {
	return &RedisActions{
		client: client,
		prefix: "annotator:",
	}
}

func (s *RedisActions) key(annotationID string, action Action) string {
	return s.prefix + annotationID + ":" + string(action)
}

// Add records the action for the user and reports whether it was new.
// Like and dislike exclude each other: adding one withdraws the other.
func (s *RedisActions) Add(ctx context.Context, annotationID, userID string, action Action) (bool, error) {
	pipe := s.client.TxPipeline()
	switch action {
	case ActionLike:
		pipe.SRem(ctx, s.key(annotationID, ActionDislike), userID)
	case ActionDislike:
		pipe.SRem(ctx, s.key(annotationID, ActionLike), userID)
	}
	added := pipe.SAdd(ctx, s.key(annotationID, action), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("add %s action: %w", action, err)
	}
	return added.Val() == 1, nil
}

func (s *RedisActions) Counts(ctx context.Context, annotationID string) (Counts, error) {
	pipe := s.client.Pipeline()
	likes := pipe.SCard(ctx, s.key(annotationID, ActionLike))
	dislikes := pipe.SCard(ctx, s.key(annotationID, ActionDislike))
	flags := pipe.SCard(ctx, s.key(annotationID, ActionFlag))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("count actions: %w", err)
	}
	return Counts{
		Likes:    int(likes.Val()),
		Dislikes: int(dislikes.Val()),
		Flags:    int(flags.Val()),
	}, nil
}

// UserActions lists the actions userID has taken on the annotation.
func (s *RedisActions) UserActions(ctx context.Context, annotationID, userID string) ([]Action, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(allActions))
	for i, action := range allActions {
		cmds[i] = pipe.SIsMember(ctx, s.key(annotationID, action), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("lookup user actions: %w", err)
	}
	actions := make([]Action, 0, len(allActions))
	for i, cmd := range cmds {
		if cmd.Val() {
			actions = append(actions, allActions[i])
		}
	}
	return actions, nil
}

// Clear drops every action recorded on the annotation.
func (s *RedisActions) Clear(ctx context.Context, annotationID string) error {
	keys := make([]string, len(allActions))
	for i, action := range allActions {
		keys[i] = s.key(annotationID, action)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	return nil
}

func (s *RedisActions) Close() error {
	return s.client.Close()
}

func (s *RedisActions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
