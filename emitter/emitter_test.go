package emitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversInFIFOOrder(t *testing.T) {
	e := New()
	e.Emit(UserInput{Content: "hello"})
	e.Emit(AssistantTextStart{})
	e.Emit(AssistantTextDelta{Delta: "hi"})
	e.Close()

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	require.Equal(t, EventKindUserInput, got[0].Kind())
	require.Equal(t, EventKindAssistantTextStart, got[1].Kind())
	require.Equal(t, EventKindAssistantTextDelta, got[2].Kind())
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	e := New()
	e.Close()
	e.Close()
	select {
	case _, ok := <-e.Events():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel never closed")
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	e := New()
	e.Close()
	e.Emit(Info{Code: "x"})
	_, ok := <-e.Events()
	require.False(t, ok)
}
