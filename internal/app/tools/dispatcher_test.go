package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	sent []protocol.ClientEvent
}

func (r *recorder) Send(ev protocol.ClientEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ev)
	return true
}

func (r *recorder) events() []protocol.ClientEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ClientEvent(nil), r.sent...)
}

type positions struct {
	pos domain.Position
	err error
}

func (p positions) FetchPosition(context.Context) (domain.Position, error) { return p.pos, p.err }

func output(t *testing.T, ev protocol.ClientEvent) (string, map[string]any) {
	t.Helper()
	item, ok := ev.(*protocol.ConversationItemCreate)
	require.True(t, ok, "expected conversation.item.create, got %T", ev)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(item.Item.Output), &out))
	return item.Item.CallID, out
}

func TestDefaultToolAnswersWithGenericResponse(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, nil)

	d.Dispatch(context.Background(), domain.ToolInvocation{Name: FocusPlanet, CallID: "call_1", RawArguments: `{"planet":"Mars"}`})

	sent := rec.events()
	require.Len(t, sent, 1, "focus_planet needs no follow-up")
	callID, out := output(t, sent[0])
	assert.Equal(t, "call_1", callID)
	assert.Equal(t, map[string]any{"response": "Tool call focus_planet executed successfully."}, out)
	assert.Empty(t, d.Pending())
}

func TestISSPositionMergesPositionAndRequestsResponse(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, positions{pos: domain.Position{Latitude: 12.5, Longitude: -45}})

	d.Dispatch(context.Background(), domain.ToolInvocation{Name: GetISSPosition, CallID: "c9"})

	sent := rec.events()
	require.Len(t, sent, 2)
	callID, out := output(t, sent[0])
	assert.Equal(t, "c9", callID)
	assert.Equal(t, "Tool call get_iss_position executed successfully.", out["response"])
	assert.Equal(t, map[string]any{"latitude": 12.5, "longitude": -45.0}, out["issPosition"])
	_, isCreate := sent[1].(*protocol.ResponseCreate)
	assert.True(t, isCreate)
}

func TestISSPositionFailureStillAnswers(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, positions{err: errors.New("lookup down")})

	d.Dispatch(context.Background(), domain.ToolInvocation{Name: GetISSPosition, CallID: "c1"})

	sent := rec.events()
	require.Len(t, sent, 2)
	_, out := output(t, sent[0])
	assert.Equal(t, "lookup down", out["error"])
	assert.NotContains(t, out, "issPosition")
}

func TestDisplayDataFollowsUp(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, nil)
	d.Dispatch(context.Background(), domain.ToolInvocation{Name: DisplayData, CallID: "c1", RawArguments: `{"data":[]}`})
	require.Len(t, rec.events(), 2)
}

func TestUnknownToolGetsGenericResponseAndIsCounted(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, nil)

	d.Dispatch(context.Background(), domain.ToolInvocation{Name: "launch_rocket", CallID: "c1"})

	sent := rec.events()
	require.Len(t, sent, 1)
	_, out := output(t, sent[0])
	assert.Equal(t, "Tool call launch_rocket executed successfully.", out["response"])
	assert.Equal(t, 1, d.UnknownCalls())
}

func TestRepeatedCallIDIsAnsweredOnce(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, nil)
	inv := domain.ToolInvocation{Name: ShowOrbit, CallID: "dup"}

	d.Dispatch(context.Background(), inv)
	d.Dispatch(context.Background(), inv)

	assert.Len(t, rec.events(), 1)
}

func TestEveryCallIDAnsweredWithItsOwnOutput(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher("sess", rec, positions{})
	names := []string{FocusPlanet, ResetCamera, ShowMoons, GetISSPosition}
	for i, n := range names {
		d.Dispatch(context.Background(), domain.ToolInvocation{Name: n, CallID: n + "-" + string(rune('a'+i))})
	}

	answered := map[string]int{}
	for _, ev := range rec.events() {
		if item, ok := ev.(*protocol.ConversationItemCreate); ok {
			answered[item.Item.CallID]++
		}
	}
	assert.Len(t, answered, len(names))
	for id, n := range answered {
		assert.Equal(t, 1, n, id)
	}
}

func TestCatalogAndSessionConfig(t *testing.T) {
	cat := Catalog()
	require.Len(t, cat, 6)
	seen := map[string]bool{}
	for _, tool := range cat {
		assert.Equal(t, "function", tool.Type)
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.Parameters, tool.Name)
		if _, ok := tool.Parameters["properties"]; ok {
			assert.Equal(t, "object", tool.Parameters["type"], tool.Name)
		}
		seen[tool.Name] = true
	}
	for _, n := range []string{FocusPlanet, DisplayData, ResetCamera, ShowOrbit, ShowMoons, GetISSPosition} {
		assert.True(t, seen[n], n)
	}
	for _, n := range []string{ResetCamera, ShowOrbit, GetISSPosition} {
		for _, tool := range cat {
			if tool.Name == n {
				assert.Empty(t, tool.Parameters, n)
			}
		}
	}

	cfg := SessionConfig()
	assert.Equal(t, Instructions, cfg.Instructions)
	assert.Len(t, cfg.Tools, 6)
}
