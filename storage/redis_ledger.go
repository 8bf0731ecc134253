package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// RedisLedgerProvider keeps one Redis set of paged job ids per session
type RedisLedgerProvider struct {
	client *redis.Client
	// Retention bounds how long a session's set survives without writes; zero keeps it forever
	Retention time.Duration
}

// NewRedisLedgerProvider creates a Redis ledger provider
func NewRedisLedgerProvider(client *redis.Client, retention time.Duration) *RedisLedgerProvider {
	return &RedisLedgerProvider{client: client, Retention: retention}
}

// Open returns the ledger of a session; the listing is not needed
func (p *RedisLedgerProvider) Open(_ context.Context, user, session string, _ []Object) (Ledger, error) {
	return &RedisLedger{
		client:    p.client,
		key:       fmt.Sprintf("foqus:paged:%s:%s", user, session),
		retention: p.Retention,
	}, nil
}

// RedisLedger is the Redis ledger of one session
type RedisLedger struct {
	client    *redis.Client
	key       string
	retention time.Duration
}

// HasBeenPaged reports whether jobID is a member of the session set
func (l *RedisLedger) HasBeenPaged(ctx context.Context, jobID string) (bool, error) {
	ok, err := l.client.WithContext(ctx).SIsMember(l.key, jobID).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check job %s paged", jobID)
	}
	return ok, nil
}

// MarkPaged adds jobID to the session set
func (l *RedisLedger) MarkPaged(ctx context.Context, jobID string, _ int) error {
	client := l.client.WithContext(ctx)
	if err := client.SAdd(l.key, jobID).Err(); err != nil {
		return errors.Wrapf(err, "mark job %s paged", jobID)
	}
	if l.retention > 0 {
		if err := client.Expire(l.key, l.retention).Err(); err != nil {
			return errors.Wrapf(err, "set retention on %s", l.key)
		}
	}
	return nil
}

// PagedJobs returns the session set in order
func (l *RedisLedger) PagedJobs(ctx context.Context) ([]string, error) {
	ids, err := l.client.WithContext(ctx).SMembers(l.key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list paged jobs of %s", l.key)
	}
	sort.Strings(ids)
	return ids, nil
}
