// Package protocol encodes and decodes the JSON events carried on the control channel.
package protocol

import "github.com/dkeye/VoiceAgent/internal/domain"

const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseDone           = "response.done"

	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// Event is the envelope shared by every message.
type Event struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

func (e *Event) envelope() *Event { return e }

// ClientEvent is any event this side sends.
type ClientEvent interface {
	envelope() *Event
}

type SessionUpdate struct {
	Event
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Tools        []Tool `json:"tools"`
	Instructions string `json:"instructions"`
	Voice        string `json:"voice,omitempty"`
}

// Tool is one entry of the catalog advertised in session.update.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ConversationItemCreate struct {
	Event
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ResponseCreate struct {
	Event
}

// ResponseDone is the only server event this core reacts to.
type ResponseDone struct {
	Event
	Response Response `json:"response"`
}

type Response struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []OutputItem `json:"output"`
}

type OutputItem struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// ToolInvocation returns the first output item when it is a function call.
func (r *ResponseDone) ToolInvocation() (domain.ToolInvocation, bool) {
	if len(r.Response.Output) == 0 {
		return domain.ToolInvocation{}, false
	}
	out := r.Response.Output[0]
	if out.Type != ItemFunctionCall {
		return domain.ToolInvocation{}, false
	}
	return domain.ToolInvocation{
		Name:         out.Name,
		RawArguments: out.Arguments,
		CallID:       out.CallID,
	}, true
}

func NewSessionUpdate(cfg SessionConfig) *SessionUpdate {
	return &SessionUpdate{Event: Event{Type: TypeSessionUpdate}, Session: cfg}
}

func NewFunctionCallOutput(callID, output string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Event: Event{Type: TypeConversationItemCreate},
		Item: ConversationItem{
			Type:   ItemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}

func NewResponseCreate() *ResponseCreate {
	return &ResponseCreate{Event: Event{Type: TypeResponseCreate}}
}
