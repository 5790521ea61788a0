// Package identity holds the tag's key material and provisioning flag, backed
// by a persistent key-value store with compiled-in defaults as fallback.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/interfaces"
)

// RecordName is the key the identity record is persisted under.
const RecordName = "identity"

// ErrCommitFailed is returned when new key material could not be persisted.
// The previous identity stays in effect.
var ErrCommitFailed = errors.New("identity commit failed")

// Sealer encrypts the persisted record. *cryptoutils.Sealer implements it.
type Sealer interface {
	Seal(plaintext, associatedData []byte) ([]byte, error)
	Open(sealed, associatedData []byte) ([]byte, error)
}

// Store is the tag's identity. Reads are safe from any goroutine; mutation is
// expected from the deferred worker only.
type Store struct {
	mu       sync.RWMutex
	kv       interfaces.KeyValueStore
	sealer   Sealer
	defaults interfaces.Identity
	current  interfaces.Identity
	log      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts the persisted record at rest.
func WithSealer(sealer Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

// NewStore creates a store that falls back to defaults until Load succeeds.
// The defaults are never reported as provisioned.
func NewStore(kv interfaces.KeyValueStore, defaults interfaces.Identity, log *slog.Logger, opts ...Option) *Store {
	defaults.Provisioned = false
	s := &Store{
		kv:       kv,
		defaults: defaults,
		current:  defaults,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load populates the identity from persistent storage.
//
// A missing or corrupt record yields the compiled-in defaults. An unreachable
// backend also yields the defaults, and the error is returned for logging.
func (s *Store) Load(ctx context.Context) (interfaces.Identity, error) {
	id, err := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		s.current = id
		s.log.Info("Loaded identity",
			slog.Bool("provisioned", id.Provisioned),
			slog.String("backend", s.kv.Name()))
		return id, nil
	case errors.Is(err, interfaces.ErrRecordNotFound):
		s.log.Info("No stored identity, using defaults")
		s.current = s.defaults
		return s.current, nil
	case errors.Is(err, ErrCorruptRecord), errors.Is(err, cryptoutils.ErrUnsealFailed), errors.Is(err, cryptoutils.ErrSealedDataTooShort):
		s.log.Warn("Stored identity is unreadable, using defaults", "err", err)
		s.current = s.defaults
		return s.current, nil
	default:
		s.log.Error("Failed to load identity, using defaults", "err", err)
		s.current = s.defaults
		return s.current, err
	}
}

func (s *Store) load(ctx context.Context) (interfaces.Identity, error) {
	data, err := s.kv.Load(ctx, RecordName)
	if err != nil {
		return interfaces.Identity{}, err
	}
	if s.sealer != nil {
		data, err = s.sealer.Open(data, []byte(RecordName))
		if err != nil {
			return interfaces.Identity{}, err
		}
	}
	return DecodeRecord(data)
}

// Commit persists new key material and marks the tag provisioned.
// A nil key keeps its current value. On failure nothing changes.
func (s *Store) Commit(ctx context.Context, apple *interfaces.AppleKey, google *interfaces.GoogleKey) (interfaces.Identity, error) {
	s.mu.RLock()
	next := s.current
	s.mu.RUnlock()

	if apple != nil {
		next.Apple = *apple
	}
	if google != nil {
		next.Google = *google
	}
	next.Provisioned = true

	data := EncodeRecord(next)
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(data, []byte(RecordName))
		cryptoutils.Wipe(data)
		if err != nil {
			return s.Snapshot(), fmt.Errorf("%w: %w", ErrCommitFailed, err)
		}
		data = sealed
	}

	if err := s.kv.Save(ctx, RecordName, data); err != nil {
		s.log.Error("Failed to persist identity", "err", err, slog.String("backend", s.kv.Name()))
		return s.Snapshot(), fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.log.Info("Committed identity",
		slog.Bool("apple_updated", apple != nil),
		slog.Bool("google_updated", google != nil))

	return next, nil
}

// Snapshot returns the identity currently in effect.
func (s *Store) Snapshot() interfaces.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Provisioned reports whether the identity came from a committed provisioning.
func (s *Store) Provisioned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Provisioned
}
