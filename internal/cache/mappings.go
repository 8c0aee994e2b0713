// Package cache keeps credit mapping definitions in Redis in front of the repository.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"example.com/cpd/internal/domain"
	"example.com/cpd/internal/logger"
)

const (
	keyPrefix = "cpd:mappings:"
	genPrefix = "cpd:mappings:gen:"
)

var errStaleLoad = errors.New("mapping cache: invalidated during load")

// Mappings is a read-through cache for an activity's credit mappings. Redis
// failures degrade to the underlying source rather than failing resolution.
type Mappings struct {
	rdb    *goredis.Client
	source domain.MappingSource
	ttl    time.Duration
	log    *logger.Logger
	group  singleflight.Group
}

// NewMappings wraps source with a Redis-backed cache.
func NewMappings(rdb *goredis.Client, source domain.MappingSource, ttl time.Duration, log *logger.Logger) *Mappings {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Mappings{rdb: rdb, source: source, ttl: ttl, log: log.With("component", "mapping_cache")}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ListMappings returns the cached mappings for activityID, loading them from
// the source on a miss. Concurrent misses for one activity share a single load.
func (c *Mappings) ListMappings(ctx context.Context, activityID string) ([]domain.CreditMapping, error) {
	key := keyPrefix + activityID

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		mappings, decodeErr := decodeMappings(raw)
		if decodeErr == nil {
			return mappings, nil
		}
		c.log.Warn("discarding undecodable cache entry", "activity_id", activityID, "error", decodeErr)
	case !errors.Is(err, goredis.Nil):
		c.log.Warn("mapping cache read failed", "activity_id", activityID, "error", err)
	}

	// Loads are shared per generation so a miss after an invalidation never joins an older load.
	gen, genErr := c.generation(ctx, c.rdb, activityID)
	if genErr != nil {
		c.log.Warn("mapping cache generation read failed", "activity_id", activityID, "error", genErr)
	}
	v, err, _ := c.group.Do(key+"@"+strconv.FormatInt(gen, 10), func() (any, error) {
		mappings, err := c.source.ListMappings(ctx, activityID)
		if err != nil {
			return nil, err
		}
		if genErr == nil {
			c.fill(ctx, activityID, gen, mappings)
		}
		return mappings, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CreditMapping), nil
}

// fill stores mappings loaded at generation gen. The write is dropped when an
// invalidation bumped the generation after the load began.
func (c *Mappings) fill(ctx context.Context, activityID string, gen int64, mappings []domain.CreditMapping) {
	body, err := encodeMappings(mappings)
	if err != nil {
		return
	}
	key := keyPrefix + activityID
	err = c.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := c.generation(ctx, tx, activityID)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, body, c.ttl)
			return nil
		})
		return err
	}, genPrefix+activityID)
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, goredis.TxFailedErr):
		c.log.Debug("skipping stale mapping cache fill", "activity_id", activityID)
	default:
		c.log.Warn("mapping cache write failed", "activity_id", activityID, "error", err)
	}
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (c *Mappings) generation(ctx context.Context, cmd getter, activityID string) (int64, error) {
	gen, err := cmd.Get(ctx, genPrefix+activityID).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return gen, err
}

// InvalidateMappings drops the cached entry for activityID and bumps its
// generation so loads already in flight do not write it back.
func (c *Mappings) InvalidateMappings(ctx context.Context, activityID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, genPrefix+activityID)
		pipe.Del(ctx, keyPrefix+activityID)
		return nil
	})
	return err
}

type cachedMapping struct {
	ID               string    `json:"id"`
	ActivityID       string    `json:"activity_id"`
	Unit             string    `json:"unit"`
	Amount           float64   `json:"amount"`
	Category         string    `json:"category"`
	Structured       bool      `json:"structured"`
	Country          string    `json:"country"`
	AllowedStates    []string  `json:"allowed_states,omitempty"`
	ExcludedStates   []string  `json:"excluded_states,omitempty"`
	ValidationMethod string    `json:"validation_method"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

func encodeMappings(mappings []domain.CreditMapping) ([]byte, error) {
	out := make([]cachedMapping, len(mappings))
	for i, m := range mappings {
		out[i] = cachedMapping{
			ID:               m.ID,
			ActivityID:       m.ActivityID,
			Unit:             string(m.Unit),
			Amount:           m.Amount,
			Category:         m.Category,
			Structured:       m.Structured,
			Country:          m.Country,
			AllowedStates:    m.AllowedStates,
			ExcludedStates:   m.ExcludedStates,
			ValidationMethod: string(m.ValidationMethod),
			Active:           m.Active,
			CreatedAt:        m.CreatedAt,
		}
	}
	return json.Marshal(out)
}

func decodeMappings(raw []byte) ([]domain.CreditMapping, error) {
	var in []cachedMapping
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]domain.CreditMapping, len(in))
	for i, m := range in {
		out[i] = domain.CreditMapping{
			ID:               m.ID,
			ActivityID:       m.ActivityID,
			Unit:             domain.CreditUnit(m.Unit),
			Amount:           m.Amount,
			Category:         m.Category,
			Structured:       m.Structured,
			Country:          m.Country,
			AllowedStates:    m.AllowedStates,
			ExcludedStates:   m.ExcludedStates,
			ValidationMethod: domain.ValidationMethod(m.ValidationMethod),
			Active:           m.Active,
			CreatedAt:        m.CreatedAt,
		}
	}
	return out, nil
}
