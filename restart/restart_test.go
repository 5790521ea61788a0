package restart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ calls int }

func (f *failing) Restart(context.Context) error {
	f.calls++
	return errors.New("no bus")
}

func TestFallbackUsesNextRestarter(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	first := &failing{}
	code := -1
	exit := NewExit(log, func(c int) { code = c })

	err := NewFallback(log, first, exit).Restart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, ExitCode, code)
}

func TestFallbackAllFail(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := NewFallback(log, &failing{}, &failing{}).Restart(context.Background())
	assert.ErrorContains(t, err, "no bus")

	err = NewFallback(log).Restart(context.Background())
	assert.Error(t, err)
}

func TestNewSystemdRequiresUnit(t *testing.T) {
	_, err := NewSystemd("", slog.Default())
	assert.Error(t, err)

	s, err := NewSystemd("hybridtag.service", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "hybridtag.service", s.unit)
}
