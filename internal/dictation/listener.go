package dictation

import (
	"time"

	"github.com/lexiqai/dictation/internal/engine"
)

// Status is the lifecycle state of the orchestrator
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
)

// Listener receives session events. Calls are made from orchestrator
// goroutines and must not block for long.
type Listener interface {
	OnStatus(sessionID string, status Status)
	OnLevel(sessionID string, level float32)
	OnPartial(sessionID string, text string)
	OnComplete(sessionID string, result engine.Result)
}

// Listeners fans events out to several listeners in order
type Listeners []Listener

func (ls Listeners) OnStatus(sessionID string, status Status) {
	for _, l := range ls {
		l.OnStatus(sessionID, status)
	}
}

func (ls Listeners) OnLevel(sessionID string, level float32) {
	for _, l := range ls {
		l.OnLevel(sessionID, level)
	}
}

func (ls Listeners) OnPartial(sessionID string, text string) {
	for _, l := range ls {
		l.OnPartial(sessionID, text)
	}
}

func (ls Listeners) OnComplete(sessionID string, result engine.Result) {
	for _, l := range ls {
		l.OnComplete(sessionID, result)
	}
}

// EventType names the kind of a session Event
type EventType string

const (
	EventStatus   EventType = "status"
	EventLevel    EventType = "level"
	EventPartial  EventType = "partial"
	EventComplete EventType = "complete"
)

// Event is the wire form of a Listener callback
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Status    Status         `json:"status,omitempty"`
	Level     float32        `json:"level,omitempty"`
	Text      string         `json:"text,omitempty"`
	Result    *engine.Result `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventFunc adapts a func to Listener, turning each callback into an Event
type EventFunc func(Event)

func (f EventFunc) OnStatus(sessionID string, status Status) {
	f(Event{Type: EventStatus, SessionID: sessionID, Status: status, Timestamp: time.Now().UTC()})
}

func (f EventFunc) OnLevel(sessionID string, level float32) {
	f(Event{Type: EventLevel, SessionID: sessionID, Level: level, Timestamp: time.Now().UTC()})
}

func (f EventFunc) OnPartial(sessionID string, text string) {
	f(Event{Type: EventPartial, SessionID: sessionID, Text: text, Timestamp: time.Now().UTC()})
}

func (f EventFunc) OnComplete(sessionID string, result engine.Result) {
	f(Event{Type: EventComplete, SessionID: sessionID, Text: result.Text, Result: &result, Timestamp: time.Now().UTC()})
}
