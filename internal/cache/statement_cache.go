package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
)

// StatementCache is a Redis-backed, best-effort cache for rendered statements.
// All operations run through a circuit breaker: when Redis misbehaves the
// breaker opens and statement reads degrade to the ledger store instead of
// paying Redis timeouts on every request.
//
// A nil *StatementCache is valid and disables caching entirely.
type StatementCache struct {
	client rueidis.Client
	cb     *gobreaker.CircuitBreaker
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

type Config struct {
	Addr      string
	TTL       time.Duration
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		TTL:       2 * time.Second,
		KeyPrefix: "crebito:",
	}
}

func New(cfg Config, logger *zap.Logger) (*StatementCache, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.Addr},
	})
	if err != nil {
		return nil, fmt.Errorf("statement cache: failed to create redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("statement cache: failed to ping redis: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "statement-cache",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("statement cache circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &StatementCache{
		client: client,
		cb:     cb,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Get returns the cached statement for the account, or false on miss or any
// cache failure.
func (c *StatementCache) Get(ctx context.Context, accountID int) (*models.Statement, bool) {
	if c == nil {
		return nil, false
	}

	v, err := c.cb.Execute(func() (interface{}, error) {
		resp := c.client.Do(ctx, c.client.B().Get().Key(c.key(accountID)).Build())
		if err := resp.Error(); err != nil {
			if rueidis.IsRedisNil(err) {
				// A miss is a healthy outcome, not a breaker failure.
				return nil, nil
			}
			return nil, err
		}
		return resp.AsBytes()
	})
	if err != nil {
		c.logger.Debug("statement cache get failed",
			zap.Int("account_id", accountID),
			zap.Error(err),
		)
		return nil, false
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false
	}

	var st models.Statement
	if err := json.Unmarshal(data, &st); err != nil {
		c.logger.Warn("statement cache holds malformed entry",
			zap.Int("account_id", accountID),
			zap.Error(err),
		)
		return nil, false
	}
	return &st, true
}

// Set stores the statement with the configured TTL, best effort.
func (c *StatementCache) Set(ctx context.Context, accountID int, st *models.Statement) {
	if c == nil {
		return
	}

	data, err := json.Marshal(st)
	if err != nil {
		c.logger.Warn("failed to marshal statement for cache", zap.Error(err))
		return
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		cmd := c.client.B().Set().Key(c.key(accountID)).Value(string(data)).Ex(c.ttl).Build()
		return nil, c.client.Do(ctx, cmd).Error()
	})
	if err != nil {
		c.logger.Debug("statement cache set failed",
			zap.Int("account_id", accountID),
			zap.Error(err),
		)
	}
}

// Invalidate drops the cached statement after an accepted transaction so the
// next read reflects the new balance. Best effort: on failure staleness is
// still bounded by the TTL.
func (c *StatementCache) Invalidate(ctx context.Context, accountID int) {
	if c == nil {
		return
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Do(ctx, c.client.B().Del().Key(c.key(accountID)).Build()).Error()
	})
	if err != nil {
		c.logger.Debug("statement cache invalidate failed",
			zap.Int("account_id", accountID),
			zap.Error(err),
		)
	}
}

func (c *StatementCache) Close() {
	if c == nil {
		return
	}
	c.client.Close()
}

func (c *StatementCache) key(accountID int) string {
	return fmt.Sprintf("%sstatement:%d", c.prefix, accountID)
}
