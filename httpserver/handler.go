package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/provisioning"
	"github.com/ruteri/hybrid-tag/radio/sim"
	"github.com/ruteri/hybrid-tag/tag"
)

// maxBodySize is the maximum allowed request body size.
const maxBodySize = 4 * 1024

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

// StatusSource reports the tag state.
type StatusSource interface {
	Report() tag.Report
	Frame() (tag.FrameReport, bool)
}

// Bench plays a provisioning peer against the simulated transport.
type Bench interface {
	Layout() (interfaces.ServiceLayout, bool)
	Connect() (interfaces.ConnectionID, error)
	Disconnect(conn interfaces.ConnectionID) error
	Write(conn interfaces.ConnectionID, uuid string, offset int, data []byte) (int, error)
}

// Handler serves the tag status API and, when a bench is attached, the
// simulated provisioning peer.
type Handler struct {
	status StatusSource
	bench  Bench
	log    *slog.Logger
}

// NewHandler creates a handler. bench may be nil.
func NewHandler(status StatusSource, bench Bench, log *slog.Logger) *Handler {
	return &Handler{
		status: status,
		bench:  bench,
		log:    log,
	}
}

// HasBench reports whether the simulated peer endpoints are available.
func (h *Handler) HasBench() bool {
	return h.bench != nil
}

// HandleStatus returns the tag status report.
//
// URL format: GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Report())
}

// HandleFrame returns the broadcast on air, or 404 when nothing is advertised.
//
// URL format: GET /api/frame
func (h *Handler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := h.status.Frame()
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("not advertising")})
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

type connRequest struct {
	Conn interfaces.ConnectionID `json:"conn"`
}

// WriteRequest is the body of a simulated characteristic write. Text is used
// when Data is empty.
type WriteRequest struct {
	Conn   interfaces.ConnectionID `json:"conn"`
	Offset int                     `json:"offset"`
	Data   hexutil.Bytes           `json:"data,omitempty"`
	Text   string                  `json:"text,omitempty"`
}

// WriteResponse reports the outcome of a simulated write.
type WriteResponse struct {
	Written int    `json:"written"`
	Error   string `json:"error,omitempty"`
	ATTCode string `json:"att_code,omitempty"`
}

// HandleSimConnect opens a simulated peer connection.
//
// URL format: POST /api/sim/connect
func (h *Handler) HandleSimConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.bench.Connect()
	if err != nil {
		h.writeError(w, benchError(err))
		return
	}
	h.writeJSON(w, http.StatusOK, connRequest{Conn: conn})
}

// HandleSimDisconnect closes a simulated peer connection.
//
// URL format: POST /api/sim/disconnect
// Request body: {"conn": <id>}
func (h *Handler) HandleSimDisconnect(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.bench.Disconnect(req.Conn); err != nil {
		h.writeError(w, benchError(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// HandleSimWrite writes to a provisioning characteristic as the connected peer.
// Rejected writes answer 422 with the ATT code the transport would return.
//
// URL format: POST /api/sim/write/{characteristic}
// Request body: {"conn": <id>, "offset": <n>, "data": "0x..."} or {"conn": <id>, "text": "..."}
func (h *Handler) HandleSimWrite(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(chi.URLParam(r, "characteristic"))
	if err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	var req WriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	data := []byte(req.Data)
	if len(data) == 0 {
		data = []byte(req.Text)
	}

	layout, ok := h.bench.Layout()
	if !ok {
		h.writeError(w, benchError(sim.ErrNotServing))
		return
	}
	uuid, ok := layout.UUIDFor(role)
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("characteristic %s not in layout", role)})
		return
	}

	n, err := h.bench.Write(req.Conn, uuid, req.Offset, data)
	if err != nil {
		var perr *provisioning.ProtocolError
		if errors.As(err, &perr) {
			h.writeJSON(w, http.StatusUnprocessableEntity, WriteResponse{
				Error:   err.Error(),
				ATTCode: fmt.Sprintf("0x%02x", byte(perr.Code)),
			})
			return
		}
		h.writeError(w, benchError(err))
		return
	}
	h.writeJSON(w, http.StatusOK, WriteResponse{Written: n})
}

func parseRole(s string) (interfaces.CharacteristicRole, error) {
	for r := interfaces.CharAuth; r <= interfaces.CharStatus; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= int(interfaces.CharAuth) && n <= int(interfaces.CharStatus) {
		return interfaces.CharacteristicRole(n), nil
	}
	return 0, fmt.Errorf("unknown characteristic %q", s)
}

func benchError(err error) *RequestError {
	switch {
	case errors.Is(err, sim.ErrNotServing):
		return &RequestError{StatusCode: http.StatusConflict, Err: err}
	case errors.Is(err, sim.ErrNotConnected):
		return &RequestError{StatusCode: http.StatusConflict, Err: err}
	case errors.Is(err, sim.ErrUnknownUUID):
		return &RequestError{StatusCode: http.StatusNotFound, Err: err}
	default:
		return &RequestError{StatusCode: http.StatusInternalServerError, Err: err}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var rerr *RequestError
	if errors.As(err, &rerr) {
		status = rerr.StatusCode
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
