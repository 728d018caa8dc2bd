package storage

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kgantsov/s3lease/internal/domain"
)

// BadgerStorage implements ObjectStore on an embedded badger database. Every
// successful write mints a fresh UUID as the object's version token, stored
// next to the body. Badger's transaction conflict detection makes the
// read-compare-write sequence atomic; commit conflicts are retried so racing
// writers always lose by version comparison, never by a transaction abort.
type BadgerStorage struct {
	db *badger.DB
}

var (
	dbObject  = []byte("object/")
	dbVersion = []byte("version/")
)

func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{
		db: db,
	}
}

func (s *BadgerStorage) EnsureBucket(ctx context.Context) error {
	// Nothing to create, the database is the bucket.
	return ctxErr(ctx, "ensure bucket", "", false)
}

func (s *BadgerStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctxErr(ctx, "check object", key, false); err != nil {
		return false, err
	}

	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(addPrefix(dbObject, []byte(key)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, &domain.RequestError{Op: "check object", Name: key, Err: err}
	}
	return found, nil
}

func (s *BadgerStorage) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctxErr(ctx, "get object", key, false); err != nil {
		return nil, "", err
	}

	var data []byte
	var version string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addPrefix(dbObject, []byte(key)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(addPrefix(dbVersion, []byte(key)))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		version = string(v)
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return nil, "", domain.ErrObjectNotFound
	}
	if err != nil {
		return nil, "", &domain.RequestError{Op: "get object", Name: key, Err: err}
	}
	return data, version, nil
}

func (s *BadgerStorage) Create(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctxErr(ctx, "create object", key, true); err != nil {
		return "", err
	}

	version := uuid.NewString()
	err := s.update(ctx, "create object", key, func(txn *badger.Txn) error {
		_, err := txn.Get(addPrefix(dbObject, []byte(key)))
		if err == nil {
			return domain.ErrPreconditionFailed
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return s.write(txn, key, body, version)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			return "", domain.ErrPreconditionFailed
		}
		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) {
			return "", err
		}
		return "", &domain.RequestError{Op: "create object", Name: key, Err: err}
	}

	log.Debug().Msgf("Created object %s with version %s", key, version)
	return version, nil
}

func (s *BadgerStorage) Update(ctx context.Context, key string, body []byte, version string) (string, error) {
	if err := ctxErr(ctx, "update object", key, true); err != nil {
		return "", err
	}

	newVersion := uuid.NewString()
	err := s.update(ctx, "update object", key, func(txn *badger.Txn) error {
		item, err := txn.Get(addPrefix(dbVersion, []byte(key)))
		if err == badger.ErrKeyNotFound {
			return domain.ErrPreconditionFailed
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) != version {
			return domain.ErrPreconditionFailed
		}
		return s.write(txn, key, body, newVersion)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			return "", domain.ErrPreconditionFailed
		}
		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) {
			return "", err
		}
		return "", &domain.RequestError{Op: "update object", Name: key, Err: err}
	}
	return newVersion, nil
}

func (s *BadgerStorage) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx, "delete object", key, true); err != nil {
		return err
	}

	err := s.update(ctx, "delete object", key, func(txn *badger.Txn) error {
		_, err := txn.Get(addPrefix(dbObject, []byte(key)))
		if err != nil {
			return err
		}
		if err := txn.Delete(addPrefix(dbObject, []byte(key))); err != nil {
			return err
		}
		return txn.Delete(addPrefix(dbVersion, []byte(key)))
	})
	if err == badger.ErrKeyNotFound {
		return domain.ErrObjectNotFound
	}
	if err != nil {
		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) {
			return err
		}
		return &domain.RequestError{Op: "delete object", Name: key, Err: err}
	}
	return nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func (s *BadgerStorage) write(txn *badger.Txn, key string, body []byte, version string) error {
	if err := txn.Set(addPrefix(dbObject, []byte(key)), body); err != nil {
		return err
	}
	return txn.Set(addPrefix(dbVersion, []byte(key)), []byte(version))
}

// update runs fn in a read-write transaction, retrying commit conflicts.
// The retry loop re-checks the deadline so sustained conflicts cannot spin
// past the per-call budget the lease client set.
func (s *BadgerStorage) update(ctx context.Context, op string, key string, fn func(txn *badger.Txn) error) error {
	for {
		if err := ctxErr(ctx, op, key, true); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
}

func ctxErr(ctx context.Context, op string, key string, mutation bool) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.TimeoutError{Op: op, Name: key, OutcomeUnknown: mutation}
		}
		return &domain.RequestError{Op: op, Name: key, Err: err}
	}
	return nil
}
