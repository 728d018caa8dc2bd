package lease

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgantsov/s3lease/internal/domain"
	"github.com/kgantsov/s3lease/internal/storage"
)

func newBadgerClient(t *testing.T, opts ...Option) *Client {
	tmpDir, err := os.MkdirTemp("", "lease")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := badger.Open(badger.DefaultOptions(tmpDir))
	require.NoError(t, err)

	store := storage.NewBadgerStorage(db)
	t.Cleanup(func() { store.Close() })

	return NewClient(store, opts...)
}

// stubStore lets tests script backend behavior per operation. Unset
// operations report an empty bucket.
type stubStore struct {
	ensureBucketFn func(ctx context.Context) error
	existsFn       func(ctx context.Context, key string) (bool, error)
	getFn          func(ctx context.Context, key string) ([]byte, string, error)
	createFn       func(ctx context.Context, key string, body []byte) (string, error)
	updateFn       func(ctx context.Context, key string, body []byte, version string) (string, error)
	deleteFn       func(ctx context.Context, key string) error
}

func (s *stubStore) EnsureBucket(ctx context.Context) error {
	if s.ensureBucketFn != nil {
		return s.ensureBucketFn(ctx)
	}
	return nil
}

func (s *stubStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(ctx, key)
	}
	return false, nil
}

func (s *stubStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if s.getFn != nil {
		return s.getFn(ctx, key)
	}
	return nil, "", domain.ErrObjectNotFound
}

func (s *stubStore) Create(ctx context.Context, key string, body []byte) (string, error) {
	if s.createFn != nil {
		return s.createFn(ctx, key, body)
	}
	return "v1", nil
}

func (s *stubStore) Update(ctx context.Context, key string, body []byte, version string) (string, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, key, body, version)
	}
	return "", domain.ErrPreconditionFailed
}

func (s *stubStore) Delete(ctx context.Context, key string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, key)
	}
	return domain.ErrObjectNotFound
}

func (s *stubStore) Close() error {
	return nil
}

func TestReadOrCreate_CreatesWhenAbsent(t *testing.T) {
	client := newBadgerClient(t)

	resource, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	assert.Equal(t, "", resource.Body.Owner)
	assert.NotEqual(t, "", resource.Version)
}

func TestReadOrCreate_ReturnsExisting(t *testing.T) {
	client := newBadgerClient(t)

	first, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	result, err := client.Update(context.Background(), "shard-7", "node-A", first.Version, nil)
	require.NoError(t, err)
	require.True(t, result.Won)

	second, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	assert.Equal(t, "node-A", second.Body.Owner)
	assert.Equal(t, result.Resource.Version, second.Version)
}

func TestReadOrCreate_RaceConvergence(t *testing.T) {
	client := newBadgerClient(t)

	var wg sync.WaitGroup
	resources := make([]domain.LeaseResource, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resources[i], errs[i] = client.ReadOrCreate(context.Background(), "shard-7")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Only one create can win, so both callers must observe the same
	// stored lease.
	assert.Equal(t, resources[0].Version, resources[1].Version)
	assert.Equal(t, resources[0].Body, resources[1].Body)
}

func TestReadOrCreate_TooManyAttempts(t *testing.T) {
	createCalls := 0
	store := &stubStore{
		createFn: func(ctx context.Context, key string, body []byte) (string, error) {
			createCalls++
			return "", domain.ErrPreconditionFailed
		},
	}
	client := NewClient(store)

	_, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.Error(t, err)

	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)
	assert.Equal(t, 5, createCalls)
}

func TestReadOrCreate_FatalErrorNotRetried(t *testing.T) {
	createCalls := 0
	store := &stubStore{
		createFn: func(ctx context.Context, key string, body []byte) (string, error) {
			createCalls++
			return "", &domain.AuthError{Op: "create object", Name: key, Code: "AccessDenied"}
		},
	}
	client := NewClient(store)

	_, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.Error(t, err)

	var authErr *domain.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, createCalls)
}

func TestUpdate_WonThenLost(t *testing.T) {
	client := newBadgerClient(t)

	resource, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)
	assert.Equal(t, "", resource.Body.Owner)

	now := time.Now().UTC().Truncate(time.Second)
	result, err := client.Update(context.Background(), "shard-7", "node-A", resource.Version, &now)
	require.NoError(t, err)

	require.True(t, result.Won)
	assert.Equal(t, "node-A", result.Resource.Body.Owner)
	assert.NotEqual(t, resource.Version, result.Resource.Version)

	// A second caller holding the stale version must lose and learn the
	// current owner.
	stale, err := client.Update(context.Background(), "shard-7", "node-B", resource.Version, nil)
	require.NoError(t, err)

	require.False(t, stale.Won)
	assert.Equal(t, "node-A", stale.Resource.Body.Owner)
	assert.Equal(t, result.Resource.Version, stale.Resource.Version)

	require.NoError(t, client.Remove(context.Background(), "shard-7"))

	_, found, err := client.Get(context.Background(), "shard-7")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdate_AtMostOneWinner(t *testing.T) {
	client := newBadgerClient(t)

	resource, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	const writers = 8

	var wg sync.WaitGroup
	results := make([]domain.UpdateResult, writers)
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := string(rune('A' + i))
			results[i], errs[i] = client.Update(context.Background(), "shard-7", "node-"+owner, resource.Version, nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		if results[i].Won {
			winners++
		} else {
			assert.NotEqual(t, resource.Version, results[i].Resource.Version)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestUpdate_VersionFreshness(t *testing.T) {
	client := newBadgerClient(t)

	resource, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	seen := map[string]bool{resource.Version: true}
	version := resource.Version

	for i := 0; i < 3; i++ {
		result, err := client.Update(context.Background(), "shard-7", "node-A", version, nil)
		require.NoError(t, err)
		require.True(t, result.Won)

		assert.False(t, seen[result.Resource.Version])
		seen[result.Resource.Version] = true
		version = result.Resource.Version
	}

	current, found, err := client.Get(context.Background(), "shard-7")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, version, current.Version)
}

func TestUpdate_TimeoutOutcomeUnknown(t *testing.T) {
	store := &stubStore{
		updateFn: func(ctx context.Context, key string, body []byte, version string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	client := NewClient(store, WithRequestTimeout(50*time.Millisecond))

	_, err := client.Update(context.Background(), "shard-7", "node-A", "v1", nil)
	require.Error(t, err)

	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.OutcomeUnknown)
}

func TestUpdate_MissingAfterConflict(t *testing.T) {
	store := &stubStore{
		updateFn: func(ctx context.Context, key string, body []byte, version string) (string, error) {
			return "", domain.ErrPreconditionFailed
		},
		getFn: func(ctx context.Context, key string) ([]byte, string, error) {
			return nil, "", domain.ErrObjectNotFound
		},
	}
	client := NewClient(store)

	_, err := client.Update(context.Background(), "shard-7", "node-A", "v1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingAfterConflict)
}

func TestUpdate_DeletedSinceRead(t *testing.T) {
	store := &stubStore{
		updateFn: func(ctx context.Context, key string, body []byte, version string) (string, error) {
			return "", domain.ErrObjectNotFound
		},
	}
	client := NewClient(store)

	_, err := client.Update(context.Background(), "shard-7", "node-A", "v1", nil)
	require.Error(t, err)

	// The guarded write failed because the object is gone, which must not
	// surface as the benign absent branch.
	assert.ErrorIs(t, err, domain.ErrMissingAfterConflict)
	assert.NotErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestGet_Absent(t *testing.T) {
	client := newBadgerClient(t)

	_, found, err := client.Get(context.Background(), "no-such-lease")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGet_CorruptBody(t *testing.T) {
	store := &stubStore{
		existsFn: func(ctx context.Context, key string) (bool, error) {
			return true, nil
		},
		getFn: func(ctx context.Context, key string) ([]byte, string, error) {
			return []byte("not json at all"), "v1", nil
		},
	}
	client := NewClient(store)

	_, _, err := client.Get(context.Background(), "shard-7")
	require.Error(t, err)

	var corruptErr *domain.CorruptLeaseError
	assert.ErrorAs(t, err, &corruptErr)
}

func TestRemove_Idempotent(t *testing.T) {
	client := newBadgerClient(t)

	require.NoError(t, client.Remove(context.Background(), "shard-7"))

	_, err := client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	require.NoError(t, client.Remove(context.Background(), "shard-7"))
	require.NoError(t, client.Remove(context.Background(), "shard-7"))

	_, found, err := client.Get(context.Background(), "shard-7")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEnsureBucket_RunsOnce(t *testing.T) {
	ensureCalls := 0
	store := &stubStore{
		ensureBucketFn: func(ctx context.Context) error {
			ensureCalls++
			return nil
		},
	}
	client := NewClient(store)

	_, _, err := client.Get(context.Background(), "shard-7")
	require.NoError(t, err)
	require.NoError(t, client.Remove(context.Background(), "shard-7"))
	_, err = client.ReadOrCreate(context.Background(), "shard-7")
	require.NoError(t, err)

	assert.Equal(t, 1, ensureCalls)
}

func TestEnsureBucket_RetriedAfterFailure(t *testing.T) {
	ensureCalls := 0
	store := &stubStore{
		ensureBucketFn: func(ctx context.Context) error {
			ensureCalls++
			if ensureCalls == 1 {
				return &domain.RequestError{Op: "ensure bucket", Code: "InternalError", Status: 500}
			}
			return nil
		},
	}
	client := NewClient(store)

	_, _, err := client.Get(context.Background(), "shard-7")
	require.Error(t, err)

	_, _, err = client.Get(context.Background(), "shard-7")
	require.NoError(t, err)

	assert.Equal(t, 2, ensureCalls)
}
