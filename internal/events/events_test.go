package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Status{Agent: AgentContext, Message: "gathering"}))
	assert.NoError(t, Validate(AgentStatus{Agent: AgentNavigator, Status: StateProcessing, Progress: 40}))
	assert.NoError(t, Validate(SamplingPoints{Points: []types.Coordinate{{Latitude: 35, Longitude: 139}}}))

	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(Status{Agent: "sentinel", Message: "x"}))
	assert.Error(t, Validate(AgentStatus{Agent: AgentAnalyst, Status: "done", Progress: 10}))
	assert.Error(t, Validate(AgentStatus{Agent: AgentAnalyst, Status: StateComplete, Progress: 120}))
	assert.Error(t, Validate(SamplingPoints{Points: []types.Coordinate{{Latitude: 95, Longitude: 0}}}))
	assert.Error(t, Validate(CandidateRoutes{Routes: []RouteLine{{Index: 0}}}))
	assert.Error(t, Validate(Result{}))
	assert.Error(t, Validate(Error{}))
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, AgentStatus{Agent: AgentNarrator, Status: StateComplete, Progress: 100, Message: "done"}))

	frame := buf.String()
	require.True(t, strings.HasPrefix(frame, "event: agent_status\ndata: "))
	require.True(t, strings.HasSuffix(frame, "\n\n"))

	data := strings.TrimSuffix(strings.TrimPrefix(frame, "event: agent_status\ndata: "), "\n\n")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, "agent_status", payload["type"])
	assert.Equal(t, "narrator", payload["agent"])
	assert.Equal(t, float64(100), payload["progress"])

	buf.Reset()
	assert.Error(t, WriteSSE(&buf, Error{}))
	assert.Zero(t, buf.Len())
}

func TestQueue(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Publish(Status{Agent: AgentContext, Message: "tick"})
		}()
	}
	wg.Wait()
	q.Publish(Result{Data: "final"})
	q.Close()
	q.Publish(Status{Agent: AgentContext, Message: "late"})

	var got []Event
	for {
		e, ok := q.Next(ctx)
		if !ok {
			break
		}
		got = append(got, e)
	}
	require.Len(t, got, 51)
	assert.True(t, Terminal(got[50]))
	assert.Len(t, q.Events(), 51)
}

func TestQueueDoesNotBlockPublisher(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			q.Publish(Status{Agent: AgentNavigator, Message: "tick"})
		}
		q.Close()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked without a reader")
	}

	n := 0
	for {
		if _, ok := q.Next(context.Background()); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 10000, n)
}

func TestQueueNextHonoursContext(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Next(ctx)
	assert.False(t, ok)
}

func TestQueueWakesReader(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	done := make(chan Event)
	go func() {
		e, _ := q.Next(context.Background())
		done <- e
	}()

	time.Sleep(10 * time.Millisecond)
	q.Publish(Error{Message: "boom"})

	select {
	case e := <-done:
		assert.Equal(t, TypeError, e.Kind())
	case <-time.After(time.Second):
		t.Fatal("reader was not woken")
	}
}
