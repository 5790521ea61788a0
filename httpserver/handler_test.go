package httpserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/hybrid-tag/identity"
	"github.com/ruteri/hybrid-tag/indicator"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/provisioning"
	"github.com/ruteri/hybrid-tag/radio/sim"
	"github.com/ruteri/hybrid-tag/storage"
	"github.com/ruteri/hybrid-tag/tag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRestarter struct{}

func (noopRestarter) Restart(context.Context) error { return nil }

type fakeStatus struct {
	report tag.Report
	frame  *tag.FrameReport
}

func (f *fakeStatus) Report() tag.Report { return f.report }

func (f *fakeStatus) Frame() (tag.FrameReport, bool) {
	if f.frame == nil {
		return tag.FrameReport{}, false
	}
	return *f.frame, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBootedTag returns an unprovisioned tag serving on a simulated GATT server.
// The worker is not running, so commits stay queued.
func newBootedTag(t *testing.T) (*tag.Tag, *sim.GATT) {
	t.Helper()
	log := testLogger()
	gatt := sim.NewGATT()

	tg, err := tag.New(tag.Config{
		Mode:            provisioning.ModeDualKey,
		AuthCode:        provisioning.DefaultAuthCode,
		GoogleFormat:    interfaces.GoogleFormatFEAA,
		InitialProtocol: interfaces.ProtocolAppleFindMy,
	}, log, tag.Collaborators{
		Radio:     sim.NewRadio(log),
		GATT:      gatt,
		Store:     identity.NewStore(storage.NewMemoryBackend("test"), identity.Defaults(), log),
		Indicator: &indicator.Recorder{},
		Restarter: noopRestarter{},
		Clock:     clock.NewMock(),
	})
	require.NoError(t, err)
	require.NoError(t, tg.Boot(context.Background()))
	return tg, gatt
}

func newTestRouter(handler *Handler) http.Handler {
	srv := New(&HTTPServerConfig{Log: testLogger()}, handler)
	return srv.getRouter()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandleStatus(t *testing.T) {
	status := &fakeStatus{report: tag.Report{
		Status:         "beaconing",
		Provisioned:    true,
		ActiveProtocol: "google",
		Mode:           "dual",
		SessionState:   "idle",
		LastCommit:     "none",
	}}
	router := newTestRouter(NewHandler(status, nil, testLogger()))

	rr := doJSON(t, router, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got tag.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, status.report, got)
}

func TestHandleFrame(t *testing.T) {
	status := &fakeStatus{}
	router := newTestRouter(NewHandler(status, nil, testLogger()))

	rr := doJSON(t, router, http.MethodGet, "/api/frame", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	status.frame = &tag.FrameReport{Kind: "beacon", Protocol: "apple", Address: "c1:02:03:04:05:06", Payload: "4c00", Length: 29}
	rr = doJSON(t, router, http.MethodGet, "/api/frame", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got tag.FrameReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, *status.frame, got)
}

func TestSimRoutesRequireBench(t *testing.T) {
	router := newTestRouter(NewHandler(&fakeStatus{}, nil, testLogger()))

	rr := doJSON(t, router, http.MethodPost, "/api/sim/connect", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSimProvisioningFlow(t *testing.T) {
	tg, gatt := newBootedTag(t)
	router := newTestRouter(NewHandler(tg, gatt, testLogger()))

	rr := doJSON(t, router, http.MethodPost, "/api/sim/connect", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var conn connRequest
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conn))
	require.NotZero(t, conn.Conn)

	// Key material before auth is refused with the unauthenticated code.
	apple := identity.Defaults().Apple
	rr = doJSON(t, router, http.MethodPost, "/api/sim/write/apple", map[string]any{
		"conn": conn.Conn,
		"data": "0x" + hex.EncodeToString(apple[:14]),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var rejected WriteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rejected))
	assert.Equal(t, "0x05", rejected.ATTCode)

	rr = doJSON(t, router, http.MethodPost, "/api/sim/write/auth", WriteRequest{Conn: conn.Conn, Text: provisioning.DefaultAuthCode})
	require.Equal(t, http.StatusOK, rr.Code)
	var ok WriteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ok))
	assert.Equal(t, provisioning.AuthCodeLen, ok.Written)

	// A short chunk is an invalid length.
	rr = doJSON(t, router, http.MethodPost, "/api/sim/write/apple", WriteRequest{Conn: conn.Conn, Data: apple[:3]})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rejected))
	assert.Equal(t, "0x0d", rejected.ATTCode)

	rr = doJSON(t, router, http.MethodPost, "/api/sim/write/apple", WriteRequest{Conn: conn.Conn, Data: apple[:14]})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ok))
	assert.Equal(t, 14, ok.Written)

	rr = doJSON(t, router, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report tag.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.False(t, report.Provisioned)
	assert.Equal(t, "dual", report.Mode)
	assert.Equal(t, interfaces.StatusProvisioning.String(), report.Status)

	rr = doJSON(t, router, http.MethodPost, "/api/sim/disconnect", connRequest{Conn: conn.Conn})
	assert.Equal(t, http.StatusOK, rr.Code)

	// The connection is gone.
	rr = doJSON(t, router, http.MethodPost, "/api/sim/disconnect", connRequest{Conn: conn.Conn})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = doJSON(t, router, http.MethodPost, "/api/sim/write/auth", WriteRequest{Conn: conn.Conn, Text: provisioning.DefaultAuthCode})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSimWriteBadRequests(t *testing.T) {
	tg, gatt := newBootedTag(t)
	router := newTestRouter(NewHandler(tg, gatt, testLogger()))

	rr := doJSON(t, router, http.MethodPost, "/api/sim/write/bogus", WriteRequest{Conn: 1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// The dual-key layout has no single-key characteristic.
	rr = doJSON(t, router, http.MethodPost, "/api/sim/write/key", WriteRequest{Conn: 1})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sim/write/auth", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseRole(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want interfaces.CharacteristicRole
		ok   bool
	}{
		{"auth", interfaces.CharAuth, true},
		{"apple", interfaces.CharAppleKey, true},
		{"google", interfaces.CharGoogleKey, true},
		{"status", interfaces.CharStatus, true},
		{"1", interfaces.CharKey, true},
		{"9", 0, false},
		{"", 0, false},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseRole(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
