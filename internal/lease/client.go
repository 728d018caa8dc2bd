package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/rs/zerolog/log"

	"github.com/kgantsov/s3lease/internal/domain"
	"github.com/kgantsov/s3lease/internal/storage"
)

const (
	// createAttempts bounds the read-or-create bootstrap loop. The loop only
	// spins when another writer keeps winning the create race, so running out
	// of attempts signals churn rather than a transient condition.
	createAttempts = 5

	DefaultRequestTimeout = 5 * time.Second
)

// errLostCreateRace marks the benign branch of the bootstrap loop: the
// object appeared (or vanished) between our read and our create, so the loop
// should go around again.
var errLostCreateRace = errors.New("lost create race")

// Client manages the lifecycle of named lease objects against a conditional
// write object store. All mutual exclusion comes from the backend's version
// token precondition: a single Client may be shared by concurrent callers and
// many processes may run their own Client against the same bucket.
type Client struct {
	store          storage.ObjectStore
	requestTimeout time.Duration

	// Guards the one-time bucket bootstrap. The flag is only set after
	// EnsureBucket completes, so a failed attempt is retried by the next
	// operation while a completed one is never reissued.
	mu          sync.Mutex
	bucketReady bool
}

type Option func(*Client)

// WithRequestTimeout sets the per-call deadline applied to every backend
// round trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

func NewClient(store storage.ObjectStore, opts ...Option) *Client {
	c := &Client{
		store:          store,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadOrCreate returns the lease with the given name, creating an unowned one
// if none exists yet. Concurrent creates are benign: the loser of the race
// re-reads and returns whatever the winner stored. After createAttempts
// failed rounds it gives up with domain.ErrTooManyAttempts.
func (c *Client) ReadOrCreate(ctx context.Context, name string) (domain.LeaseResource, error) {
	if err := c.ensureBucket(ctx); err != nil {
		return domain.LeaseResource{}, err
	}

	var res domain.LeaseResource

	retrier := retry.NewRetrier(createAttempts, 10*time.Millisecond, 250*time.Millisecond)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		exists, err := c.exists(ctx, name)
		if err != nil {
			return retry.Stop(err)
		}
		if exists {
			resource, found, err := c.get(ctx, name)
			if err != nil {
				return retry.Stop(err)
			}
			if found {
				res = resource
				return nil
			}
			// The object vanished between the existence check and the read,
			// fall through and race for the create.
		}

		resource, created, err := c.create(ctx, name)
		if err != nil {
			return retry.Stop(err)
		}
		if created {
			res = resource
			return nil
		}

		log.Debug().Msgf("Lease %s was created concurrently, re-reading", name)
		return errLostCreateRace
	})
	if err != nil {
		if errors.Is(err, errLostCreateRace) {
			return domain.LeaseResource{}, fmt.Errorf("read or create lease %q: %w", name, domain.ErrTooManyAttempts)
		}
		return domain.LeaseResource{}, c.wrapTimeout(err, "read or create lease", name, true)
	}
	return res, nil
}

// Update performs the conditional write at the heart of the protocol: the
// lease body is overwritten only if its current version token still equals
// version. Exactly one of N concurrent updates against the same version wins;
// the others get the authoritative current lease back.
func (c *Client) Update(ctx context.Context, name string, owner string, version string, t *time.Time) (domain.UpdateResult, error) {
	if err := c.ensureBucket(ctx); err != nil {
		return domain.UpdateResult{}, err
	}

	body := domain.LeaseBody{Owner: owner, Time: t}
	data, err := body.ToBytes()
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("update lease %q: %w", name, err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	newVersion, err := c.store.Update(cctx, name, data, version)
	if err == nil {
		log.Debug().Msgf("Lease %s update won by %s, version %s", name, owner, newVersion)
		return domain.UpdateResult{
			Won:      true,
			Resource: domain.LeaseResource{Body: body, Version: newVersion},
		}, nil
	}

	if errors.Is(err, domain.ErrPreconditionFailed) {
		current, found, err := c.get(ctx, name)
		if err != nil {
			return domain.UpdateResult{}, err
		}
		if !found {
			// Lost the write and the winner is already gone. A conflicting
			// writer created and deleted the lease within our window, which
			// is an anomaly the caller has to look at.
			return domain.UpdateResult{}, fmt.Errorf("update lease %q: %w", name, domain.ErrMissingAfterConflict)
		}
		log.Debug().Msgf("Lease %s update lost, current owner %s", name, current.Body.Owner)
		return domain.UpdateResult{Won: false, Resource: current}, nil
	}

	if errors.Is(err, domain.ErrObjectNotFound) {
		// The backend refused the guarded write because the object is gone
		// entirely (deleted since the version was read). Absence is only a
		// benign branch for reads and deletes; here it is the same anomaly
		// as losing the write and finding nothing on the re-read.
		return domain.UpdateResult{}, fmt.Errorf("update lease %q: %w", name, domain.ErrMissingAfterConflict)
	}

	return domain.UpdateResult{}, c.wrapTimeout(err, "update lease", name, true)
}

// Get reads the current lease. Absence is a normal result, reported through
// the second return value rather than an error.
func (c *Client) Get(ctx context.Context, name string) (domain.LeaseResource, bool, error) {
	if err := c.ensureBucket(ctx); err != nil {
		return domain.LeaseResource{}, false, err
	}
	return c.get(ctx, name)
}

// Remove deletes the lease. Removing an absent lease succeeds: the goal
// state already holds.
func (c *Client) Remove(ctx context.Context, name string) error {
	if err := c.ensureBucket(ctx); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	err := c.store.Delete(cctx, name)
	if errors.Is(err, domain.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return c.wrapTimeout(err, "remove lease", name, true)
	}

	log.Debug().Msgf("Removed lease %s", name)
	return nil
}

func (c *Client) exists(ctx context.Context, name string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	exists, err := c.store.Exists(cctx, name)
	if err != nil {
		return false, c.wrapTimeout(err, "check lease", name, false)
	}
	return exists, nil
}

func (c *Client) get(ctx context.Context, name string) (domain.LeaseResource, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	data, version, err := c.store.Get(cctx, name)
	if errors.Is(err, domain.ErrObjectNotFound) {
		return domain.LeaseResource{}, false, nil
	}
	if err != nil {
		return domain.LeaseResource{}, false, c.wrapTimeout(err, "get lease", name, false)
	}

	body, err := domain.LeaseBodyFromBytes(data)
	if err != nil {
		return domain.LeaseResource{}, false, &domain.CorruptLeaseError{Name: name, Err: err}
	}
	return domain.LeaseResource{Body: body, Version: version}, true, nil
}

// create writes an unowned lease body with a fail-if-exists precondition.
// Losing the race to another creator is not an error, it is reported as
// created == false so the bootstrap loop re-reads.
func (c *Client) create(ctx context.Context, name string) (domain.LeaseResource, bool, error) {
	body := domain.LeaseBody{}
	data, err := body.ToBytes()
	if err != nil {
		return domain.LeaseResource{}, false, fmt.Errorf("create lease %q: %w", name, err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	version, err := c.store.Create(cctx, name, data)
	if errors.Is(err, domain.ErrPreconditionFailed) {
		return domain.LeaseResource{}, false, nil
	}
	if err != nil {
		return domain.LeaseResource{}, false, c.wrapTimeout(err, "create lease", name, true)
	}

	log.Debug().Msgf("Created lease %s with version %s", name, version)
	return domain.LeaseResource{Body: body, Version: version}, true, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bucketReady {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if err := c.store.EnsureBucket(cctx); err != nil {
		return c.wrapTimeout(err, "ensure bucket", "", false)
	}

	c.bucketReady = true
	return nil
}

// wrapTimeout normalizes raw deadline errors into the timeout branch of the
// taxonomy. Backends usually classify these themselves; this catches the rest.
func (c *Client) wrapTimeout(err error, op string, name string, mutation bool) error {
	var timeoutErr *domain.TimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: op, Name: name, OutcomeUnknown: mutation}
	}
	return err
}
