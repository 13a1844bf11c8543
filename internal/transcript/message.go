// Package transcript provides append-only session transcripts with an
// in-memory LRU cache and write-behind durable persistence.
//
// A transcript is the ordered message history of one conversation,
// identified by (owner, session). The source of truth is an append-only
// NDJSON file on disk; the [Cache] is a bounded read/write-through view
// over it and the [Writer] applies durable appends asynchronously while
// preserving per-transcript ordering.
package transcript

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the role of a message in a transcript.
type Kind string

// Message kinds. The set is closed: a transcript only ever contains
// these four variants.
const (
	KindSystem Kind = "system"
	KindHuman  Kind = "human"
	KindAI     Kind = "ai"
	KindTool   Kind = "tool"
)

// Valid reports whether k is one of the known message kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSystem, KindHuman, KindAI, KindTool:
		return true
	}
	return false
}

// Message is a single transcript entry.
//
// An ai message that issued tool calls carries the ordered pending call
// identifiers in ToolCalls; each of them must be resolved by a later tool
// message whose ToolCallID matches before the next human message appears.
type Message struct {
	Kind       Kind
	Content    string
	ToolCalls  []string  // ai messages only: pending tool-call ids, in issue order
	ToolCallID string    // tool messages only: the call this message resolves
	Timestamp  time.Time
}

// System returns a system message stamped with the current time.
func System(content string) Message {
	return Message{Kind: KindSystem, Content: content, Timestamp: time.Now()}
}

// Human returns a human message stamped with the current time.
func Human(content string) Message {
	return Message{Kind: KindHuman, Content: content, Timestamp: time.Now()}
}

// AI returns an ai message stamped with the current time. callIDs, when
// present, are the tool-call identifiers the message issued.
func AI(content string, callIDs ...string) Message {
	return Message{Kind: KindAI, Content: content, ToolCalls: callIDs, Timestamp: time.Now()}
}

// Tool returns a tool message resolving callID.
func Tool(callID, content string) Message {
	return Message{Kind: KindTool, Content: content, ToolCallID: callID, Timestamp: time.Now()}
}

// IssuesToolCalls reports whether m is an ai message with pending tool calls.
func (m Message) IssuesToolCalls() bool {
	return m.Kind == KindAI && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]string, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}

// CloneAll returns a deep copy of msgs. A nil input stays nil.
func CloneAll(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// record is the on-disk NDJSON shape of a message:
//
//	{"type": "system"|"human"|"ai"|"tool", "content": <string or object>, "ts": <unix>}
//
// Tool messages store content as {"tool_call_id": ..., "text": ...}; ai
// messages that issued tool calls additionally carry "tool_calls" so the
// transcript round-trips.
type record struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	ToolCalls []string        `json:"tool_calls,omitempty"`
	TS        int64           `json:"ts"`
}

// toolContent is the content object of a persisted tool message.
type toolContent struct {
	ToolCallID string `json:"tool_call_id"`
	Text       string `json:"text"`
}

// MarshalJSON encodes m as a single NDJSON record.
func (m Message) MarshalJSON() ([]byte, error) {
	rec := record{
		Type:      string(m.Kind),
		ToolCalls: m.ToolCalls,
		TS:        m.Timestamp.Unix(),
	}

	var content any
	if m.Kind == KindTool {
		content = toolContent{ToolCallID: m.ToolCallID, Text: m.Content}
	} else {
		content = m.Content
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding message content: %w", err)
	}
	rec.Content = raw

	return json.Marshal(rec)
}

// UnmarshalJSON decodes a single NDJSON record into m.
func (m *Message) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	kind := Kind(rec.Type)
	if !kind.Valid() {
		return fmt.Errorf("unknown message type %q", rec.Type)
	}

	out := Message{
		Kind:      kind,
		ToolCalls: rec.ToolCalls,
		Timestamp: time.Unix(rec.TS, 0),
	}

	// Tool content may be the structured object or, in old transcripts,
	// a bare string.
	var tc toolContent
	if kind == KindTool && json.Unmarshal(rec.Content, &tc) == nil && (tc.ToolCallID != "" || tc.Text != "") {
		out.ToolCallID = tc.ToolCallID
		out.Content = tc.Text
	} else {
		var text string
		if err := json.Unmarshal(rec.Content, &text); err != nil {
			return fmt.Errorf("decoding message content: %w", err)
		}
		out.Content = text
	}

	*m = out
	return nil
}
