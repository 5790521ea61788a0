package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var recordNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// ValidateRecordName checks that name is safe to use as a file name, object key or row key.
func ValidateRecordName(name string) error {
	if !recordNamePattern.MatchString(name) {
		return fmt.Errorf("invalid record name %q", name)
	}
	return nil
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "memory", "file", "s3", "ipfs", "vault", "sqlite", "postgres":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrRecordNotFound is returned when a named record does not exist in the backend.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or a missing volume.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// KeyValueStore persists small named records across restarts.
type KeyValueStore interface {
	// Load retrieves the record stored under name.
	// Returns ErrRecordNotFound if nothing was saved under that name.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces the record stored under name.
	Save(ctx context.Context, name string, data []byte) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this storage backend.
	Name() string

	// LocationURI returns the URI of the storage backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends from URIs.
type StorageBackendFactory interface {
	// StoreFor creates a backend for the given URI.
	StoreFor(locationURI string) (KeyValueStore, error)

	// CreateMultiBackend creates a backend that writes through and reads with fallback.
	CreateMultiBackend(locationURIs []string) (KeyValueStore, error)
}
