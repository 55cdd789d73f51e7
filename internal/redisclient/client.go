// Package redisclient owns the shared redis connection. Keys written through
// it live under a namespace so several deployments can share one instance.
package redisclient

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb   *redis.Client
	namespace string
}

type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string // defaults to "authcore"
}

func New(cfg Config) *Client {
	if cfg.Namespace == "" {
		cfg.Namespace = "authcore"
	}

	// limiter calls sit on the login path; fail fast and let the fallback take over
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaxRetries:   1,
	})

	return &Client{redisdb: redisdb, namespace: cfg.Namespace}
}

// Key joins parts under the client's namespace: Key("rl", "login") is
// "authcore:rl:login".
func (c *Client) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Ping checks redis connectivity; used by readiness.
func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}
