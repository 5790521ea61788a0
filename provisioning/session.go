// Package provisioning implements the authenticated, chunked key delivery
// that turns an unprovisioned tag into a provisioned one.
//
// A Session is driven by transport callbacks. It never touches storage: a
// completed key set is handed to a Committer, which runs the commit in the
// deferred worker after the final write has been acknowledged.
package provisioning

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/metrics"
)

// State is the provisioning session state.
type State int

const (
	StateIdle State = iota
	StateAuthPending
	StateAuthenticated
	StateCollectingKey
	StateCommitted
)

// String returns state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateCollectingKey:
		return "collecting_key"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Submission is a completed key set handed off for persistence.
// A nil key is left unchanged by the commit.
type Submission struct {
	Conn   interfaces.ConnectionID
	Apple  *interfaces.AppleKey
	Google *interfaces.GoogleKey
}

// Committer accepts a completed submission without blocking.
// It returns false if the submission could not be queued.
type Committer interface {
	SubmitCommit(sub Submission) bool
}

// CommitResult is the outcome of the most recent commit.
type CommitResult int

const (
	CommitNone CommitResult = iota
	CommitPending
	CommitSucceeded
	CommitFailed
)

// String returns result name.
func (r CommitResult) String() string {
	switch r {
	case CommitNone:
		return "none"
	case CommitPending:
		return "pending"
	case CommitSucceeded:
		return "succeeded"
	case CommitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	State      State
	Mode       Mode
	LastResult CommitResult
	LastError  string
	Commits    int
}

// Session is the provisioning state machine for one tag.
type Session struct {
	mu        sync.Mutex
	log       *slog.Logger
	mode      Mode
	authCode  []byte
	committer Committer

	state State

	appleBuf    [interfaces.AppleKeySize]byte
	appleChunks int
	googleBuf   interfaces.GoogleKey
	haveGoogle  bool

	lastResult CommitResult
	lastErr    error
	commits    int
}

// NewSession creates an idle session. authCode must be exactly AuthCodeLen bytes.
func NewSession(log *slog.Logger, mode Mode, authCode string, committer Committer) (*Session, error) {
	if len(authCode) != AuthCodeLen {
		return nil, fmt.Errorf("auth code must be %d bytes, got %d", AuthCodeLen, len(authCode))
	}
	return &Session{
		log:       log,
		mode:      mode,
		authCode:  []byte(authCode),
		committer: committer,
		state:     StateIdle,
	}, nil
}

// Mode returns the configured provisioning mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// Begin arms the session for a new peer: Idle moves to AuthPending.
// In any other state it does nothing.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		s.state = StateAuthPending
		s.log.Debug("Provisioning session awaiting auth")
	}
}

// Disconnect abandons any partial session and wipes collected key material.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		s.log.Info("Provisioning session reset on disconnect", slog.String("state", s.state.String()))
	}
	s.resetLocked()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for status reporting.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:      s.state,
		Mode:       s.mode,
		LastResult: s.lastResult,
		Commits:    s.commits,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// ReadStatus encodes the status for the status characteristic:
// [state][last commit result][mode].
func (s *Session) ReadStatus() []byte {
	st := s.Status()
	return []byte{byte(st.State), byte(st.LastResult), byte(st.Mode)}
}

// ReportCommit records the outcome of a commit the worker ran for this session.
func (s *Session) ReportCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastResult = CommitFailed
		s.lastErr = err
		return
	}
	s.lastResult = CommitSucceeded
	s.lastErr = nil
}

// HandleWrite processes one characteristic write. On success it returns the
// number of bytes accepted. Rejected writes return a *ProtocolError and leave
// collected key material untouched, except where a failed auth resets the session.
func (s *Session) HandleWrite(req interfaces.WriteRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.handleWriteLocked(req)
	if err != nil {
		metrics.ProvisioningWrites.WithLabelValues(req.Role.String(), "rejected").Inc()
		s.log.Warn("Rejected provisioning write",
			slog.String("characteristic", req.Role.String()),
			slog.Int("len", len(req.Data)),
			slog.String("state", s.state.String()),
			"err", err)
		return 0, err
	}

	metrics.ProvisioningWrites.WithLabelValues(req.Role.String(), "accepted").Inc()
	return n, nil
}

func (s *Session) handleWriteLocked(req interfaces.WriteRequest) (int, error) {
	switch req.Role {
	case interfaces.CharAuth:
		return s.authenticateLocked(req.Data)
	case interfaces.CharKey:
		if s.mode != ModeSingleKey {
			break
		}
		if err := s.requireAuthLocked(); err != nil {
			return 0, err
		}
		return s.writeSingleKeyLocked(req)
	case interfaces.CharAppleKey:
		if s.mode != ModeDualKey {
			break
		}
		if err := s.requireAuthLocked(); err != nil {
			return 0, err
		}
		return s.writeAppleChunkLocked(req)
	case interfaces.CharGoogleKey:
		if s.mode != ModeDualKey {
			break
		}
		if err := s.requireAuthLocked(); err != nil {
			return 0, err
		}
		return s.writeGoogleKeyLocked(req)
	}
	return 0, newProtocolError(ErrUnknownCharacteristic, "%s in %s mode", req.Role, s.mode)
}

func (s *Session) authenticateLocked(code []byte) (int, error) {
	if s.state != StateAuthPending {
		return 0, newProtocolError(ErrOutOfSequence, "auth write in state %s", s.state)
	}
	if len(code) != AuthCodeLen {
		s.resetLocked()
		return 0, newProtocolError(ErrInvalidLength, "auth code is %d bytes, expected %d", len(code), AuthCodeLen)
	}
	if !cryptoutils.ConstantTimeEqual(code, s.authCode) {
		s.resetLocked()
		return 0, newProtocolError(ErrAuthFailed, "auth code mismatch")
	}

	s.state = StateAuthenticated
	s.log.Info("Provisioning peer authenticated")
	return len(code), nil
}

func (s *Session) requireAuthLocked() error {
	if s.state != StateAuthenticated && s.state != StateCollectingKey {
		return newProtocolError(ErrUnauthenticated, "key write in state %s", s.state)
	}
	return nil
}

// offsetOK accepts the explicit offset of a prepared write or the implicit
// offset zero of a plain sequential write.
func offsetOK(got, want int) bool {
	return got == 0 || got == want
}

func (s *Session) writeSingleKeyLocked(req interfaces.WriteRequest) (int, error) {
	data := req.Data
	switch s.appleChunks {
	case 0:
		if len(data) == singleKeyChunk2 {
			return 0, newProtocolError(ErrOutOfSequence, "second chunk before first")
		}
		if len(data) != singleKeyChunk1 {
			return 0, newProtocolError(ErrInvalidLength, "first chunk is %d bytes, expected %d", len(data), singleKeyChunk1)
		}
		if req.Offset != 0 {
			return 0, newProtocolError(ErrOutOfSequence, "first chunk at offset %d", req.Offset)
		}
		copy(s.appleBuf[:singleKeyChunk1], data)
		s.appleChunks = 1
		s.state = StateCollectingKey
		return len(data), nil
	case 1:
		if len(data) == singleKeyChunk1 {
			return 0, newProtocolError(ErrOutOfSequence, "first chunk repeated")
		}
		if len(data) != singleKeyChunk2 {
			return 0, newProtocolError(ErrInvalidLength, "second chunk is %d bytes, expected %d", len(data), singleKeyChunk2)
		}
		if !offsetOK(req.Offset, singleKeyChunk1) {
			return 0, newProtocolError(ErrOutOfSequence, "second chunk at offset %d", req.Offset)
		}
		copy(s.appleBuf[singleKeyChunk1:], data)
		s.appleChunks = 2
		return s.commitLocked(req.Conn, len(data))
	default:
		return 0, newProtocolError(ErrOutOfSequence, "key already complete")
	}
}

func (s *Session) writeAppleChunkLocked(req interfaces.WriteRequest) (int, error) {
	data := req.Data
	if s.appleChunks >= 2 {
		return 0, newProtocolError(ErrOutOfSequence, "apple key already complete")
	}
	if len(data) != dualKeyChunk {
		return 0, newProtocolError(ErrInvalidLength, "apple chunk is %d bytes, expected %d", len(data), dualKeyChunk)
	}
	off := s.appleChunks * dualKeyChunk
	if !offsetOK(req.Offset, off) {
		return 0, newProtocolError(ErrOutOfSequence, "apple chunk at offset %d, expected %d", req.Offset, off)
	}

	copy(s.appleBuf[off:off+dualKeyChunk], data)
	s.appleChunks++
	s.state = StateCollectingKey

	if s.appleChunks == 2 && s.haveGoogle {
		return s.commitLocked(req.Conn, len(data))
	}
	return len(data), nil
}

func (s *Session) writeGoogleKeyLocked(req interfaces.WriteRequest) (int, error) {
	data := req.Data
	if s.haveGoogle {
		return 0, newProtocolError(ErrOutOfSequence, "google key already received")
	}
	if len(data) != interfaces.GoogleKeySize {
		return 0, newProtocolError(ErrInvalidLength, "google key is %d bytes, expected %d", len(data), interfaces.GoogleKeySize)
	}
	if req.Offset != 0 {
		return 0, newProtocolError(ErrOutOfSequence, "google key at offset %d", req.Offset)
	}

	copy(s.googleBuf[:], data)
	s.haveGoogle = true
	s.state = StateCollectingKey

	if s.appleChunks == 2 {
		return s.commitLocked(req.Conn, len(data))
	}
	return len(data), nil
}

// commitLocked hands the completed keys to the committer and returns the
// session to Idle. The write is acknowledged before the commit runs.
func (s *Session) commitLocked(conn interfaces.ConnectionID, n int) (int, error) {
	s.state = StateCommitted

	sub := Submission{Conn: conn}
	apple := interfaces.AppleKey(s.appleBuf)
	sub.Apple = &apple
	if s.mode == ModeDualKey {
		google := s.googleBuf
		sub.Google = &google
	}

	if !s.committer.SubmitCommit(sub) {
		s.resetLocked()
		return 0, newProtocolError(ErrCommitRejected, "worker queue full")
	}

	s.commits++
	s.lastResult = CommitPending
	s.lastErr = nil
	s.log.Info("Provisioning complete, commit scheduled", slog.String("mode", s.mode.String()))

	s.resetLocked()
	return n, nil
}

func (s *Session) resetLocked() {
	cryptoutils.Wipe(s.appleBuf[:])
	cryptoutils.Wipe(s.googleBuf[:])
	s.appleChunks = 0
	s.haveGoogle = false
	s.state = StateIdle
}
