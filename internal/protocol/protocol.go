// Package protocol defines the messages of the local suggestion feed.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeHello is sent by the server right after a client connects
	TypeHello MessageType = "hello"

	// TypeSuggestion is broadcast when a suggestion is shown or updated
	TypeSuggestion MessageType = "suggestion"

	// TypeHide is broadcast when the suggestion goes away
	TypeHide MessageType = "hide"

	// TypeStatus is sent in reply to TypeStatusRequest
	TypeStatus MessageType = "status"

	// TypeStatusRequest is sent by a client to ask for TypeStatus
	TypeStatusRequest MessageType = "status_req"

	// TypeAccept is sent by a client to apply a suggestion
	TypeAccept MessageType = "accept"

	// TypeReset is sent by a client to clear the typed text
	TypeReset MessageType = "reset"

	// TypeError is sent when a client request failed
	TypeError MessageType = "error"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// DecodePayload re-decodes a generic payload into v.
func (m Message) DecodePayload(v any) error {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// HelloPayload is the payload for TypeHello
type HelloPayload struct {
	ClientID string `json:"client_id"`
	Version  string `json:"version"`
}

// Candidate is one conversion of the typed text
type Candidate struct {
	Layout string `json:"layout"`
	Text   string `json:"text"`
}

// SuggestionPayload is the payload for TypeSuggestion
type SuggestionPayload struct {
	Text       string      `json:"text"`
	Candidates []Candidate `json:"candidates"`
	At         time.Time   `json:"at"`
}

// StatusPayload is the payload for TypeStatus and GET /api/status
type StatusPayload struct {
	Running           bool     `json:"running"`
	Paused            bool     `json:"paused"`
	Layouts           []string `json:"layouts"`
	SuggestionVisible bool     `json:"suggestion_visible"`
	Clients           int      `json:"clients"`
	Version           string   `json:"version"`
}

// AcceptPayload is the payload for TypeAccept. An empty layout picks the
// first candidate.
type AcceptPayload struct {
	Layout string `json:"layout,omitempty"`
}

// ErrorPayload is the payload for TypeError
type ErrorPayload struct {
	Request MessageType `json:"request"`
	Message string      `json:"message"`
}
