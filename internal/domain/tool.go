package domain

// ToolInvocation is a function_call pulled from a response.done event.
type ToolInvocation struct {
	Name         string `json:"name"`
	RawArguments string `json:"arguments"`
	CallID       string `json:"call_id"`
}

// ToolOutput is the payload serialized into function_call_output.output.
// "response" is always present.
type ToolOutput map[string]any

func NewToolOutput(response string) ToolOutput {
	return ToolOutput{"response": response}
}
