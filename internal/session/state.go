package session

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// State is a recording lifecycle state.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting-permission"
	StateArmed              State = "armed"
	StateRecording          State = "recording"
	StatePaused             State = "paused"
	StateStopping           State = "stopping"
	StateUploading          State = "uploading"
	StateFinished           State = "finished"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Active reports whether the session holds or is acquiring devices.
func (s State) Active() bool {
	switch s {
	case StateIdle, StateFinished, StateFailed:
		return false
	default:
		return true
	}
}

// Event drives the state machine.
type Event string

const (
	EventStart          Event = "start"
	EventGranted        Event = "granted"
	EventDenied         Event = "denied"
	EventAcquireFailed  Event = "acquire_failed"
	EventRecord         Event = "record"
	EventCancel         Event = "cancel"
	EventSwitchDevices  Event = "switch_devices"
	EventEncoderFailed  Event = "encoder_failed"
	EventPause          Event = "pause"
	EventResume         Event = "resume"
	EventStop           Event = "stop"
	EventSourceEnded    Event = "source_ended"
	EventFinalized      Event = "finalized"
	EventFinalizeFailed Event = "finalize_failed"
	EventUploaded       Event = "uploaded"
	EventUploadFailed   Event = "upload_failed"
)

var (
	// ErrIllegalTransition is returned for an event the current state does
	// not accept.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrDeviceSwitchWhileRecording rejects device changes once recording.
	ErrDeviceSwitchWhileRecording = errors.New("devices cannot be switched while recording")
)

// ReasonCancelled is the status text after a refused or cancelled start.
const ReasonCancelled = "cancelled"

type edge struct {
	From  State
	Event Event
	To    State
}

var transitions = []edge{
	{StateIdle, EventStart, StateAwaitingPermission},

	{StateAwaitingPermission, EventGranted, StateArmed},
	{StateAwaitingPermission, EventDenied, StateIdle},
	{StateAwaitingPermission, EventCancel, StateIdle},
	{StateAwaitingPermission, EventAcquireFailed, StateFailed},

	{StateArmed, EventRecord, StateRecording},
	{StateArmed, EventCancel, StateIdle},
	{StateArmed, EventSwitchDevices, StateArmed},
	{StateArmed, EventEncoderFailed, StateFailed},
	{StateArmed, EventSourceEnded, StateIdle},

	{StateRecording, EventPause, StatePaused},
	{StateRecording, EventStop, StateStopping},
	{StateRecording, EventSourceEnded, StateStopping},
	{StateRecording, EventEncoderFailed, StateFailed},

	{StatePaused, EventResume, StateRecording},
	{StatePaused, EventStop, StateStopping},
	{StatePaused, EventSourceEnded, StateStopping},
	{StatePaused, EventEncoderFailed, StateFailed},

	{StateStopping, EventFinalized, StateUploading},
	{StateStopping, EventFinalizeFailed, StateFailed},
	{StateStopping, EventEncoderFailed, StateFailed},

	{StateUploading, EventUploaded, StateFinished},
	{StateUploading, EventUploadFailed, StateFailed},
}

type edgeKey struct {
	from  State
	event Event
}

var table = buildTable(transitions)

func buildTable(edges []edge) map[edgeKey]State {
	idx := make(map[edgeKey]State, len(edges))
	for _, e := range edges {
		k := edgeKey{e.From, e.Event}
		if _, exists := idx[k]; exists {
			panic(fmt.Sprintf("duplicate transition: %s -> %s", e.From, e.Event))
		}
		idx[k] = e.To
	}
	return idx
}

// Next returns the state reached from s on ev.
func Next(s State, ev Event) (State, error) {
	to, ok := table[edgeKey{s, ev}]
	if !ok {
		return s, errors.Wrapf(ErrIllegalTransition, "state=%s event=%s", s, ev)
	}
	return to, nil
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	Event  Event     `json:"event"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
