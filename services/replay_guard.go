package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"

	"ticket-pass/internal/status"
)

// ReplayGuard remembers envelope signatures for as long as they could
// still be accepted, so each rendering gets through a gate once.
type ReplayGuard struct {
	Redis redis.Cmdable
	TTL   time.Duration
}

// NewReplayGuard sizes the memory to the acceptance span of an envelope:
// 2*tolerance+1 windows.
func NewReplayGuard(redisClient redis.Cmdable, width time.Duration, tolerance int) *ReplayGuard {
	return &ReplayGuard{
		Redis: redisClient,
		TTL:   time.Duration(2*tolerance+1) * width,
	}
}

func replayKey(signature string) string {
	sum := blake3.Sum256([]byte(signature))
	return fmt.Sprintf("ticket:replay:%s", hex.EncodeToString(sum[:16]))
}

// Claim records the signature. A second claim inside the TTL fails with
// ErrReplayed.
func (g *ReplayGuard) Claim(ctx context.Context, signature, ticketID string) error {
	ok, err := g.Redis.SetNX(ctx, replayKey(signature), ticketID, g.TTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return status.ErrReplayed
	}
	return nil
}

// Release forgets a claim, used when a later step of the scan fails.
func (g *ReplayGuard) Release(ctx context.Context, signature string) error {
	return g.Redis.Del(ctx, replayKey(signature)).Err()
}
