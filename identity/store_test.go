package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIdentity() interfaces.Identity {
	var id interfaces.Identity
	for i := range id.Apple {
		id.Apple[i] = byte(0xA0 + i)
	}
	for i := range id.Google {
		id.Google[i] = byte(0x10 + i)
	}
	id.Provisioned = true
	return id
}

func TestRecordRoundTrip(t *testing.T) {
	id := testIdentity()
	buf := EncodeRecord(id)
	require.Len(t, buf, recordLen)

	decoded, err := DecodeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestDecodeRecordRejectsCorruption(t *testing.T) {
	good := EncodeRecord(testIdentity())

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"future version", func(b []byte) []byte { b[2] = 9; return b }},
		{"flipped key bit", func(b []byte) []byte { b[10] ^= 0x01; return b }},
		{"flipped checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), good...))
			_, err := DecodeRecord(buf)
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.False(t, d.Provisioned)
	assert.Equal(t, byte(0x58), d.Apple[0])
	assert.Equal(t, "34aaaffb11e8bf854630bd2ce56fa6b06603b20b", d.Google.String())
}

func TestStoreLoadFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryBackend("t")

	store := NewStore(kv, Defaults(), testLogger())
	id, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), id)
	assert.False(t, store.Provisioned())

	require.NoError(t, kv.Save(ctx, RecordName, []byte("garbage")))
	id, err = store.Load(ctx)
	require.NoError(t, err, "corruption falls back silently")
	assert.Equal(t, Defaults(), id)
}

func TestStoreCommitAndReload(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryBackend("t")
	want := testIdentity()

	store := NewStore(kv, Defaults(), testLogger())
	_, err := store.Load(ctx)
	require.NoError(t, err)

	committed, err := store.Commit(ctx, &want.Apple, &want.Google)
	require.NoError(t, err)
	assert.Equal(t, want, committed)
	assert.Equal(t, want, store.Snapshot())

	rebooted := NewStore(kv, Defaults(), testLogger())
	id, err := rebooted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, id)
}

func TestStoreCommitPartial(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemoryBackend("t"), Defaults(), testLogger())
	want := testIdentity()

	committed, err := store.Commit(ctx, &want.Apple, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Apple, committed.Apple)
	assert.Equal(t, Defaults().Google, committed.Google)
	assert.True(t, committed.Provisioned)
}

func TestStoreCommitFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryBackend("t")
	store := NewStore(kv, Defaults(), testLogger())
	_, err := store.Load(ctx)
	require.NoError(t, err)

	kv.SetFailSaves(true)
	want := testIdentity()
	_, err = store.Commit(ctx, &want.Apple, &want.Google)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Equal(t, Defaults(), store.Snapshot())

	_, err = kv.Load(ctx, RecordName)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

type failingSealer struct{ err error }

func (f failingSealer) Seal([]byte, []byte) ([]byte, error) { return nil, f.err }

func (f failingSealer) Open([]byte, []byte) ([]byte, error) { return nil, f.err }

func TestStoreCommitSealFailure(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryBackend("t")
	errEntropy := errors.New("entropy unavailable")
	store := NewStore(kv, Defaults(), testLogger(), WithSealer(failingSealer{err: errEntropy}))

	want := testIdentity()
	prev, err := store.Commit(ctx, &want.Apple, &want.Google)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.ErrorIs(t, err, errEntropy)
	assert.Equal(t, Defaults(), prev)

	_, err = kv.Load(ctx, RecordName)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestStoreSealedRecord(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryBackend("t")
	sealer, err := cryptoutils.NewSealer("tag-passphrase")
	require.NoError(t, err)

	store := NewStore(kv, Defaults(), testLogger(), WithSealer(sealer))
	want := testIdentity()
	_, err = store.Commit(ctx, &want.Apple, &want.Google)
	require.NoError(t, err)

	raw, err := kv.Load(ctx, RecordName)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(want.Apple[:]))

	id, err := NewStore(kv, Defaults(), testLogger(), WithSealer(sealer)).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, id)

	// A plain reader cannot parse a sealed record and falls back.
	id, err = NewStore(kv, Defaults(), testLogger()).Load(ctx)
	require.NoError(t, err)
	assert.False(t, id.Provisioned)
}
