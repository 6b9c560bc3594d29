// Package kvcoord implements the KV coordination primitives: TTL locks and a
// one-shot NX flag, backed by etcd's lease and transaction primitives.
//
// No Redis client is present anywhere in this repository's dependency
// corpus; etcd's CreateRevision compare gives the same atomic
// "set-if-absent"/"set-if-present" contract that a Redis SET NX/XX EX pair
// would, so the lock semantics translate directly.
package kvcoord

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// sentinel is the opaque value stored at a lock key; its content never matters,
// only presence and lease expiry do.
const sentinel = "held"

// kv is the subset of clientv3.KV that Store depends on. *clientv3.Client
// satisfies it directly.
type kv interface {
	Txn(ctx context.Context) clientv3.Txn
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

// leaser is the subset of clientv3.Lease that Store depends on.
type leaser interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
}

// Store implements the lock and buffer-timer primitives of spec §4.1 over an
// etcd keyspace shared with the pending package.
type Store struct {
	kv    kv
	lease leaser
}

// New wraps an etcd client. A *clientv3.Client satisfies both kv and leaser.
func New(client *clientv3.Client) *Store {
	return &Store{kv: client, lease: client}
}

func lockKey(project, key string) string {
	return fmt.Sprintf("lock.%s.%s", project, key)
}

func bufferTimerKey(project, session string) string {
	return fmt.Sprintf("buffer_timer.%s.%s", project, session)
}

// AgentLockKey builds the skill-agent lock key for a learning space, per the
// `skill_learn.{learning_space}` convention the agent consumer uses.
func AgentLockKey(learningSpaceID string) string {
	return "skill_learn." + learningSpaceID
}

// AcquireLock sets lock.{project}.{key} to a sentinel value with expiry ttl,
// iff it is currently absent. Returns true iff newly acquired.
func (s *Store) AcquireLock(ctx context.Context, project, key string, ttl time.Duration) (bool, error) {
	return s.setIfAbsent(ctx, lockKey(project, key), ttl)
}

// ReleaseLock deletes lock.{project}.{key} unconditionally. Absence is not an error.
func (s *Store) ReleaseLock(ctx context.Context, project, key string) error {
	if _, err := s.kv.Delete(ctx, lockKey(project, key)); err != nil {
		return fmt.Errorf("kvcoord: release lock %s/%s: %w", project, key, err)
	}
	return nil
}

// RenewLock re-sets lock.{project}.{key} with a fresh expiry iff it is still
// present. Returns true iff the lock was still live.
func (s *Store) RenewLock(ctx context.Context, project, key string, ttl time.Duration) (bool, error) {
	return s.setIfPresent(ctx, lockKey(project, key), ttl)
}

// CheckOrSetBufferTimer sets buffer_timer.{project}.{session} iff absent,
// with expiry ttl. Returns true iff the caller should arm the downstream timer.
func (s *Store) CheckOrSetBufferTimer(ctx context.Context, project, session string, ttl time.Duration) (bool, error) {
	return s.setIfAbsent(ctx, bufferTimerKey(project, session), ttl)
}

func (s *Store) setIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	leaseResp, err := s.lease.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return false, fmt.Errorf("kvcoord: grant lease for %s: %w", key, err)
	}
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, sentinel, clientv3.WithLease(leaseResp.ID))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("kvcoord: set-if-absent %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (s *Store) setIfPresent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	leaseResp, err := s.lease.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return false, fmt.Errorf("kvcoord: grant lease for %s: %w", key, err)
	}
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "!=", 0)).
		Then(clientv3.OpPut(key, sentinel, clientv3.WithLease(leaseResp.ID))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("kvcoord: set-if-present %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

// ttlSeconds rounds up to whole seconds — etcd lease TTL is second-granularity —
// and floors at 1 so a sub-second ttl never grants an already-expired lease.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
