package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockContended is returned by Locker.Acquire when another worker
// already holds the critical section for a (rule_id, rule_fingerprint)
// pair (spec §5).
var ErrLockContended = errors.New("correlation: lock contended")

// Locker guards the per-(rule_id, rule_fingerprint) critical section
// (spec §5): only one worker may read-modify-write a candidate
// incident for a given fingerprint at a time, so incident creation,
// alert attachment, threshold counting, and promotion stay atomic
// across a parallel worker pool. Implemented over Redis the same way
// the correlator's other cross-process coordination is (adapted from
// the teacher's StateManager's key-namespacing convention).
type Locker struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewLocker builds a Locker with the given lock lease TTL. A TTL that
// is too short relative to the slowest DB write in the critical
// section risks a second worker acquiring the lock before the first
// finishes; spec §5 treats DB I/O as the only suspension point the
// lock needs to outlive.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{redis: client, ttl: ttl}
}

// Lease is a held lock; release it with Release once the critical
// section is done.
type Lease struct {
	key   string
	token string
}

func lockKey(ruleID, fingerprint string) string {
	return fmt.Sprintf("lock:%s:%s", ruleID, fingerprint)
}

// Acquire blocks until the lock is obtained or ctx is done, polling at
// a fixed interval. Returns ErrLockContended only if ctx expires first.
func (l *Locker) Acquire(ctx context.Context, ruleID, fingerprint string) (*Lease, error) {
	key := lockKey(ruleID, fingerprint)
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockContended
			}
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return &Lease{key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockContended
		case <-ticker.C:
		}
	}
}

// releaseScript deletes the key only if it still holds this lease's
// token, so a lease whose TTL already expired and was re-acquired by
// another worker is never clobbered.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Release gives up the lease. Safe to call even if the lease's TTL
// already expired.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if err := l.redis.Eval(ctx, releaseScript, []string{lease.key}, lease.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
