package redis

import (
	"context"
	"fmt"
	"time"
)

// CodeReserver claims verification codes via SETNX so two office instances
// never hand out the same code. Reservations expire after a generous window;
// by then the store's uniqueness constraint has long been the guard.
type CodeReserver struct {
	client *Client
	ttl    time.Duration
}

const reserverKeyPrefix = "notaria:verification_code:"

func NewCodeReserver(client *Client) *CodeReserver {
	return &CodeReserver{client: client, ttl: 30 * 24 * time.Hour}
}

// Reserve atomically claims the code. Returns false when another instance
// holds it.
func (r *CodeReserver) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := r.client.SetNX(ctx, reserverKeyPrefix+code, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve verification code: %w", err)
	}
	return ok, nil
}
