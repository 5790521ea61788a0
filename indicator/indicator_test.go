package indicator

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestLogSuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	l.Show(interfaces.StatusProvisioning)
	l.Show(interfaces.StatusProvisioning)
	l.Show(interfaces.StatusFault)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "status=provisioning")
	assert.Contains(t, lines[1], "level=ERROR")
	assert.Equal(t, interfaces.StatusFault, l.Last())
}

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b}.Show(interfaces.StatusBeaconing)

	assert.Equal(t, []interfaces.Status{interfaces.StatusBeaconing}, a.Shown())
	assert.Equal(t, a.Shown(), b.Shown())
}
