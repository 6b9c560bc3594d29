// Package pending implements the FIFO pending-context queue of spec §4.2:
// a typed append plus a bounded atomic prefix-drain, keyed by
// (project, learning_space) and stored as a single JSON-array value per key —
// etcd has no native list type, so the queue is one value mutated under
// optimistic concurrency on the key's ModRevision.
package pending

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
)

// Context is the unit of work parked to the pending queue: a serialized
// DistilledContext (spec §3).
type Context = busmsg.DistilledContext

// kv is the subset of clientv3.KV that Queue depends on.
type kv interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

// Queue implements push/drain over a shared etcd keyspace.
type Queue struct {
	kv kv
}

// New wraps an etcd client. A *clientv3.Client satisfies kv directly.
func New(client *clientv3.Client) *Queue {
	return &Queue{kv: client}
}

func queueKey(project, learningSpace string) string {
	return fmt.Sprintf("skill_learn_pending.%s.%s", project, learningSpace)
}

// Push appends one Context to the tail of the (project, learningSpace) queue.
// Retries on a ModRevision conflict with a concurrent push or drain.
func (q *Queue) Push(ctx context.Context, project, learningSpace string, item Context) error {
	key := queueKey(project, learningSpace)
	for {
		items, modRev, err := q.read(ctx, key)
		if err != nil {
			return err
		}
		items = append(items, item)
		body, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("pending: marshal queue %s: %w", key, err)
		}

		cmp := clientv3.Compare(clientv3.ModRevision(key), "=", modRev)
		if modRev == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		}
		resp, err := q.kv.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(key, string(body))).
			Commit()
		if err != nil {
			return fmt.Errorf("pending: push to %s: %w", key, err)
		}
		if resp.Succeeded {
			return nil
		}
		// Lost the race to a concurrent push or drain; retry against the new value.
	}
}

// Drain atomically removes and returns up to max items from the head of the
// queue. max <= 0 returns (nil, nil) with no KV round-trip. A nil/absent max
// (use DrainAll) removes the whole queue.
func (q *Queue) Drain(ctx context.Context, project, learningSpace string, max int) ([]Context, error) {
	if max <= 0 {
		return nil, nil
	}
	return q.drain(ctx, project, learningSpace, &max)
}

// DrainAll atomically removes and returns every item in the queue, deleting
// the key. Equivalent to drain(P, L) with max absent per spec §4.2.
func (q *Queue) DrainAll(ctx context.Context, project, learningSpace string) ([]Context, error) {
	return q.drain(ctx, project, learningSpace, nil)
}

func (q *Queue) drain(ctx context.Context, project, learningSpace string, max *int) ([]Context, error) {
	key := queueKey(project, learningSpace)
	for {
		items, modRev, err := q.read(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}

		n := len(items)
		if max != nil && *max < n {
			n = *max
		}
		drained := items[:n]
		remaining := items[n:]

		cmp := clientv3.Compare(clientv3.ModRevision(key), "=", modRev)
		var op clientv3.Op
		if len(remaining) == 0 {
			op = clientv3.OpDelete(key)
		} else {
			body, err := json.Marshal(remaining)
			if err != nil {
				return nil, fmt.Errorf("pending: marshal remainder of %s: %w", key, err)
			}
			op = clientv3.OpPut(key, string(body))
		}

		resp, err := q.kv.Txn(ctx).
			If(cmp).
			Then(op).
			Commit()
		if err != nil {
			return nil, fmt.Errorf("pending: drain %s: %w", key, err)
		}
		if resp.Succeeded {
			return drained, nil
		}
		// A concurrent push landed between our read and our write; retry
		// against the new value so items pushed in that window survive.
	}
}

// read returns the queue's current items and the key's ModRevision (0 if the
// key is absent). A malformed persisted value is fatal per spec §4.2: the
// data model is authoritative and corrupt entries are never silently skipped.
func (q *Queue) read(ctx context.Context, key string) ([]Context, int64, error) {
	resp, err := q.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("pending: read %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}
	kvPair := resp.Kvs[0]
	var items []Context
	if err := json.Unmarshal(kvPair.Value, &items); err != nil {
		return nil, 0, fmt.Errorf("pending: corrupt queue value at %s: %w", key, err)
	}
	return items, kvPair.ModRevision, nil
}

// Len reports the current queue length without mutating it. Used by tests
// and by callers that need a non-authoritative size check.
func (q *Queue) Len(ctx context.Context, project, learningSpace string) (int, error) {
	items, _, err := q.read(ctx, queueKey(project, learningSpace))
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
