package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/hybrid-tag/interfaces"
)

// IPFSBackend implements a key-value store on the mutable file system (MFS) of an
// IPFS node. Records are files under a base directory; each save produces a new CID.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the node API at host:port.
func NewIPFSBackend(host, port, baseDir string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	if baseDir == "" {
		baseDir = "/hybrid-tag"
	}
	baseDir = "/" + strings.Trim(baseDir, "/")

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, baseDir, timeout),
	}, nil
}

// Load reads the MFS file for name.
// Returns ErrRecordNotFound if the file doesn't exist or ErrBackendUnavailable
// if the IPFS node is not accessible.
func (b *IPFSBackend) Load(ctx context.Context, name string) ([]byte, error) {
	if err := interfaces.ValidateRecordName(name); err != nil {
		return nil, err
	}
	start := time.Now()
	filePath := path.Join(b.baseDir, name)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, filePath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no link named") {
			b.log.Debug("Record not found in IPFS", slog.String("path", filePath))
			return nil, interfaces.ErrRecordNotFound
		}

		b.log.Error("Failed to read record from IPFS",
			slog.String("path", filePath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read record from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Loaded record from IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Save writes the MFS file for name, creating parent directories as needed.
func (b *IPFSBackend) Save(ctx context.Context, name string, data []byte) error {
	if err := interfaces.ValidateRecordName(name); err != nil {
		return err
	}
	filePath := path.Join(b.baseDir, name)

	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, filePath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write record to IPFS: %w", err)
	}

	b.log.Debug("Saved record to IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
