// Package events defines the transport-agnostic event protocol emitted while
// streaming a turn, plus its SSE rendering.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	TypeSession  Type = "session"
	TypeChunk    Type = "chunk"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Event is one ordered unit of the outbound stream.
type Event struct {
	Type Type
	Data any
}

// SessionData is always the first event of a turn: it lets a client correlate
// the forthcoming streamed content with its eventual persisted identity.
// The grounding fields are present only when retrieval was attempted.
type SessionData struct {
	SessionID            string    `json:"session_id"`
	IsNew                bool      `json:"is_new"`
	MessageID            string    `json:"message_id"`
	MessageCreatedAt     time.Time `json:"message_created_at"`
	References           []string  `json:"references,omitempty"`
	DocumentCount        *int      `json:"document_count,omitempty"`
	KnowledgeIDsSearched []string  `json:"knowledge_ids_searched,omitempty"`
}

type ChunkData struct {
	Content string `json:"content"`
}

type CompleteData struct {
	Status       string `json:"status"`
	MessageCount int64  `json:"message_count"`
}

type ErrorData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func Session(d SessionData) Event { return Event{Type: TypeSession, Data: d} }

func Chunk(content string) Event { return Event{Type: TypeChunk, Data: ChunkData{Content: content}} }

func Complete(count int64) Event {
	return Event{Type: TypeComplete, Data: CompleteData{Status: "complete", MessageCount: count}}
}

func Error(err error, msg string) Event {
	return Event{Type: TypeError, Data: ErrorData{Error: err.Error(), Message: msg}}
}

// SSE renders the event as a Server-Sent Events frame with a JSON payload.
func (e Event) SSE() (string, error) {
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, b), nil
}

// JSON renders the event as a single JSON object for non-SSE transports
// (WebSocket frames).
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Type `json:"type"`
		Data any  `json:"data"`
	}{Type: e.Type, Data: e.Data})
}
