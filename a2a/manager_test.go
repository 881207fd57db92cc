package a2a

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{NewTextPart(text)}}
}

func agentMsg(text string) Message {
	return Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}
}

func TestManager_CreateTask(t *testing.T) {
	m := NewManager()

	task, err := m.CreateTask(userMsg("ping"), "", map[string]any{"origin": "test"})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.NotEmpty(t, task.SessionID)
	assert.Equal(t, TaskStateSubmitted, task.Status.State)
	assert.False(t, task.Status.Timestamp.IsZero())
	require.Len(t, task.History, 1)
	assert.Equal(t, RoleUser, task.History[0].Role)
	assert.Equal(t, "ping", task.History[0].Parts[0].Text)
	assert.Equal(t, "test", task.Metadata["origin"])
}

func TestManager_CreateTask_KeepsSessionID(t *testing.T) {
	m := NewManager()

	task, err := m.CreateTask(userMsg("ping"), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", task.SessionID)
}

func TestManager_CreateTask_Limit(t *testing.T) {
	m := NewManager(WithMaxTasks(2))

	_, err := m.CreateTask(userMsg("a"), "", nil)
	require.NoError(t, err)
	_, err = m.CreateTask(userMsg("b"), "", nil)
	require.NoError(t, err)

	_, err = m.CreateTask(userMsg("c"), "", nil)
	assert.ErrorIs(t, err, ErrTaskLimit)
	assert.Equal(t, 2, m.TaskCount())
}

func TestManager_GetTask_ReturnsCopy(t *testing.T) {
	m := NewManager()
	created, err := m.CreateTask(userMsg("ping"), "", map[string]any{"k": "v"})
	require.NoError(t, err)

	got, ok := m.GetTask(created.ID)
	require.True(t, ok)

	// Mutating the returned task must not leak into the manager.
	got.History[0].Parts[0].Text = "tampered"
	got.Metadata["k"] = "tampered"
	got.Status.State = TaskStateFailed

	fresh, ok := m.GetTask(created.ID)
	require.True(t, ok)
	assert.Equal(t, "ping", fresh.History[0].Parts[0].Text)
	assert.Equal(t, "v", fresh.Metadata["k"])
	assert.Equal(t, TaskStateSubmitted, fresh.Status.State)
}

func TestManager_MustGetTask_NotFound(t *testing.T) {
	m := NewManager()

	_, err := m.MustGetTask("nonexistent")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_UpdateStatus_AppendsHistory(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	done := agentMsg("pong")
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, &done))

	got, err := m.MustGetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, got.Status.State)
	require.NotNil(t, got.Status.Message)
	assert.Equal(t, "pong", got.Status.Message.Parts[0].Text)

	require.Len(t, got.History, 2)
	assert.Equal(t, RoleUser, got.History[0].Role)
	assert.Equal(t, RoleAgent, got.History[1].Role)
	assert.Equal(t, "pong", got.History[1].Parts[0].Text)
}

func TestManager_UpdateStatus_InvalidTransition(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	err = m.UpdateStatus(task.ID, TaskStateCompleted, nil)
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestManager_UpdateStatus_NotFound(t *testing.T) {
	m := NewManager()
	err := m.UpdateStatus("nonexistent", TaskStateWorking, nil)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_Subscribe_FanOutOrder(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	var events []StreamEvent
	unsubscribe, err := m.Subscribe(task.ID, func(evt StreamEvent) {
		events = append(events, evt)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	require.NoError(t, m.AddArtifact(task.ID, Artifact{Parts: []Part{NewTextPart("pong")}, Index: 0, LastChunk: true}))
	done := agentMsg("pong")
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, &done))

	require.Len(t, events, 3)

	require.NotNil(t, events[0].StatusUpdate)
	assert.Equal(t, TaskStateWorking, events[0].StatusUpdate.Status.State)
	assert.False(t, events[0].Final())

	require.NotNil(t, events[1].ArtifactUpdate)
	assert.Equal(t, "pong", events[1].ArtifactUpdate.Artifact.Parts[0].Text)
	assert.True(t, events[1].ArtifactUpdate.Artifact.LastChunk)

	require.NotNil(t, events[2].StatusUpdate)
	assert.Equal(t, TaskStateCompleted, events[2].StatusUpdate.Status.State)
	assert.True(t, events[2].Final())

	for _, evt := range events {
		assert.Equal(t, task.ID, evt.TaskID())
	}
}

func TestManager_Subscribe_NotFound(t *testing.T) {
	m := NewManager()
	_, err := m.Subscribe("nonexistent", func(StreamEvent) {})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	var count int
	unsubscribe, err := m.Subscribe(task.ID, func(StreamEvent) { count++ })
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	unsubscribe()
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, nil))

	assert.Equal(t, 1, count)
}

func TestManager_TerminalReleasesSubscribers(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	_, err = m.Subscribe(task.ID, func(StreamEvent) {})
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, nil))

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Empty(t, m.subs[task.ID])
}

func TestManager_SubscriberPanicIsolation(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	_, err = m.Subscribe(task.ID, func(StreamEvent) { panic("bad subscriber") })
	require.NoError(t, err)

	var events []StreamEvent
	_, err = m.Subscribe(task.ID, func(evt StreamEvent) { events = append(events, evt) })
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, nil))

	assert.Len(t, events, 2)
}

func TestManager_AddArtifact_TerminalRejected(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, nil))

	err = m.AddArtifact(task.ID, Artifact{Parts: []Part{NewTextPart("late")}})
	assert.ErrorIs(t, err, ErrTaskTerminal)
}

func TestManager_AddArtifact_NotFound(t *testing.T) {
	m := NewManager()
	err := m.AddArtifact("nonexistent", Artifact{})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_CancelTask(t *testing.T) {
	for _, from := range []TaskState{TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired} {
		t.Run(string(from), func(t *testing.T) {
			m := NewManager()
			task, err := m.CreateTask(userMsg("ping"), "", nil)
			require.NoError(t, err)

			switch from {
			case TaskStateSubmitted:
				// Already there.
			case TaskStateWorking:
				require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
			case TaskStateInputRequired:
				require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
				require.NoError(t, m.UpdateStatus(task.ID, TaskStateInputRequired, nil))
			}

			canceled, err := m.CancelTask(task.ID)
			require.NoError(t, err)
			assert.Equal(t, TaskStateCanceled, canceled.Status.State)
		})
	}
}

func TestManager_CancelTask_EmitsFinalEvent(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)

	var events []StreamEvent
	_, err = m.Subscribe(task.ID, func(evt StreamEvent) { events = append(events, evt) })
	require.NoError(t, err)

	_, err = m.CancelTask(task.ID)
	require.NoError(t, err)

	require.Len(t, events, 1)
	require.NotNil(t, events[0].StatusUpdate)
	assert.Equal(t, TaskStateCanceled, events[0].StatusUpdate.Status.State)
	assert.True(t, events[0].Final())
}

func TestManager_CancelTask_Terminal(t *testing.T) {
	m := NewManager()
	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateCompleted, nil))

	_, err = m.CancelTask(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotCancelable)

	// A second cancel of an already-canceled task fails the same way.
	task2, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)
	_, err = m.CancelTask(task2.ID)
	require.NoError(t, err)
	_, err = m.CancelTask(task2.ID)
	assert.ErrorIs(t, err, ErrTaskNotCancelable)
}

func TestManager_CancelTask_NotFound(t *testing.T) {
	m := NewManager()
	_, err := m.CancelTask("nonexistent")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_PruneExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(
		WithExpiry(time.Hour),
		WithClock(func() time.Time { return now }),
	)

	done, err := m.CreateTask(userMsg("done"), "", nil)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(done.ID, TaskStateWorking, nil))
	require.NoError(t, m.UpdateStatus(done.ID, TaskStateCompleted, nil))

	active, err := m.CreateTask(userMsg("active"), "", nil)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(active.ID, TaskStateWorking, nil))

	// Nothing expires inside the window.
	assert.Equal(t, 0, m.PruneExpired())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.PruneExpired())

	_, ok := m.GetTask(done.ID)
	assert.False(t, ok, "terminal task should be pruned")

	// Non-terminal tasks are retained regardless of age.
	_, ok = m.GetTask(active.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, m.TaskCount())
}

func TestManager_TimestampNeverDecreases(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(WithClock(func() time.Time { return now }))

	task, err := m.CreateTask(userMsg("ping"), "", nil)
	require.NoError(t, err)
	created := task.Status.Timestamp

	// Clock skew backwards must not move the status timestamp back.
	now = now.Add(-time.Minute)
	require.NoError(t, m.UpdateStatus(task.ID, TaskStateWorking, nil))

	got, err := m.MustGetTask(task.ID)
	require.NoError(t, err)
	assert.False(t, got.Status.Timestamp.Before(created))
}

func TestManager_Concurrent(t *testing.T) {
	m := NewManager(WithMaxTasks(200))
	n := 100

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			task, err := m.CreateTask(userMsg(fmt.Sprintf("msg-%d", i)), "", nil)
			if err == nil {
				ids[i] = task.ID
			}
		})
	}
	wg.Wait()

	assert.Equal(t, n, m.TaskCount())

	for i := range n {
		wg.Go(func() {
			_ = m.UpdateStatus(ids[i], TaskStateWorking, nil)
		})
	}
	wg.Wait()

	for i := range n {
		task, err := m.MustGetTask(ids[i])
		require.NoError(t, err)
		assert.Equal(t, TaskStateWorking, task.Status.State)
	}
}
