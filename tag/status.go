package tag

import (
	"encoding/hex"
)

// FrameReport describes the broadcast on air.
type FrameReport struct {
	Kind     string `json:"kind"`
	Protocol string `json:"protocol,omitempty"`
	Address  string `json:"address,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Length   int    `json:"length"`
}

// Report is the status served by the status API.
type Report struct {
	Status         string       `json:"status"`
	Provisioned    bool         `json:"provisioned"`
	ActiveProtocol string       `json:"active_protocol"`
	RestartPending bool         `json:"restart_pending"`
	Mode           string       `json:"mode"`
	SessionState   string       `json:"session_state"`
	LastCommit     string       `json:"last_commit"`
	LastCommitErr  string       `json:"last_commit_error,omitempty"`
	Commits        int          `json:"commits"`
	OnAir          *FrameReport `json:"on_air,omitempty"`
}

// Report returns a status snapshot.
func (t *Tag) Report() Report {
	st := t.session.Status()
	r := Report{
		Status:         t.IndicatorStatus().String(),
		Provisioned:    t.Snapshot().Provisioned,
		ActiveProtocol: t.ActiveProtocol().String(),
		RestartPending: t.RestartPending(),
		Mode:           st.Mode.String(),
		SessionState:   st.State.String(),
		LastCommit:     st.LastResult.String(),
		LastCommitErr:  st.LastError,
		Commits:        st.Commits,
	}
	if f, ok := t.Frame(); ok {
		r.OnAir = &f
	}
	return r
}

// Frame returns the broadcast on air, if any.
func (t *Tag) Frame() (FrameReport, bool) {
	cur, ok := t.OnAir()
	if !ok {
		return FrameReport{}, false
	}
	f := FrameReport{
		Kind:   cur.Kind.String(),
		Length: len(cur.Payload),
	}
	if len(cur.Payload) > 0 {
		f.Protocol = cur.Protocol.String()
		f.Address = cur.Address.String()
		f.Payload = hex.EncodeToString(cur.Payload)
	}
	return f, true
}
