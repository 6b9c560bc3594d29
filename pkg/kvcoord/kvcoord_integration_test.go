package kvcoord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// newTestStore starts a disposable etcd container and returns a Store wired
// to it, mirroring the database package's testcontainers-backed test client.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "gcr.io/etcd-development/etcd:v3.5.9",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForLog("ready to serve client requests").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate etcd container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.AcquireLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	err = store.ReleaseLock(ctx, "proj-1", "skill_learn.ls-1")
	require.NoError(t, err)

	got, err = store.AcquireLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, got, "acquiring again after release must succeed")
}

func TestAcquireLockContention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AcquireLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.AcquireLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second, "concurrent acquire of a held lock must fail")
}

func TestRenewLockRequiresExistingLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	renewed, err := store.RenewLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed, "renewing an absent lock must report false")

	_, err = store.AcquireLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)

	renewed, err = store.RenewLock(ctx, "proj-1", "skill_learn.ls-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)
}

func TestCheckOrSetBufferTimerIsOneShot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CheckOrSetBufferTimer(ctx, "proj-1", "sess-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.CheckOrSetBufferTimer(ctx, "proj-1", "sess-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}
