// Package cache keeps the rolling per-session message window used as LLM
// context. Persisted history lives in Postgres; the window here is a
// truncated hot copy so reply generation never scans the full history.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach_backend/internal/ai"
)

const windowTTL = 24 * time.Hour

// Window is a redis-backed rolling message window.
type Window struct {
	rdb  *redis.Client
	size int
}

// New creates a Window truncated to size entries.
func New(rdb *redis.Client, size int) *Window {
	return &Window{rdb: rdb, size: size}
}

func key(customerID, channelID string) string {
	return fmt.Sprintf("session:%s:%s:window", customerID, channelID)
}

// Append pushes one turn onto the window, trimming to the newest entries.
func (w *Window) Append(ctx context.Context, customerID, channelID string, msg ai.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal window message: %w", err)
	}

	k := key(customerID, channelID)
	pipe := w.rdb.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.LTrim(ctx, k, int64(-w.size), -1)
	pipe.Expire(ctx, k, windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append window message: %w", err)
	}

	return nil
}

// Recent returns the window in chronological order.
func (w *Window) Recent(ctx context.Context, customerID, channelID string) ([]ai.ChatMessage, error) {
	raw, err := w.rdb.LRange(ctx, key(customerID, channelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}

	messages := make([]ai.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg ai.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode window message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Clear drops the window, e.g. after a session is archived.
func (w *Window) Clear(ctx context.Context, customerID, channelID string) error {
	if err := w.rdb.Del(ctx, key(customerID, channelID)).Err(); err != nil {
		return fmt.Errorf("clear window: %w", err)
	}
	return nil
}
