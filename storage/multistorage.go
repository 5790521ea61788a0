package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// MultiStorageBackend implements interfaces.KeyValueStore using multiple backends with fallback.
// Saves go to every available backend; loads are served by the first backend holding the record.
type MultiStorageBackend struct {
	backends []interfaces.KeyValueStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback.
func NewMultiStorageBackend(backends []interfaces.KeyValueStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Load returns the record from the first available backend that has it.
// ErrRecordNotFound is returned only when every reachable backend reports it missing.
func (m *MultiStorageBackend) Load(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("record", name))
			continue
		}

		data, err := backend.Load(ctx, name)
		if err == nil {
			m.log.Debug("Loaded record",
				slog.String("backend_name", backend.Name()),
				slog.String("record", name),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrRecordNotFound) {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to load from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("record", name),
			"err", err)
	}

	if len(errs) == 0 && notFound > 0 {
		return nil, interfaces.ErrRecordNotFound
	}

	m.log.Error("All backends failed to load record",
		slog.String("record", name),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to load %s: %v", interfaces.ErrBackendUnavailable, name, errs)
}

// Save writes the record to all available backends.
// It succeeds if at least one backend accepted the write.
func (m *MultiStorageBackend) Save(ctx context.Context, name string, data []byte) error {
	start := time.Now()
	var success bool
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Save(ctx, name, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to save to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("record", name),
				"err", err)
			continue
		}

		success = true
		m.log.Debug("Saved record",
			slog.String("backend_name", backend.Name()),
			slog.String("record", name),
			slog.Duration("duration", time.Since(start)))
	}

	if !success {
		m.log.Error("All backends failed to save record",
			slog.String("record", name),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: all backends failed to save %s: %v", interfaces.ErrBackendUnavailable, name, errs)
	}

	return nil
}

// Available checks if any backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend.
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined location URI of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
