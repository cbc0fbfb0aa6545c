package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tasksync/internal/client/gateway"
	"tasksync/internal/client/store"
	"tasksync/internal/domain"
	"tasksync/internal/websocket"
)

// mockGateway is an in-memory server. Per-call failures are scripted
// through failures, keyed by operation name, and consumed one per call.
type mockGateway struct {
	tasks    map[string]*domain.Task
	nextID   int
	calls    []string
	failures map[string][]error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		tasks:    make(map[string]*domain.Task),
		failures: make(map[string][]error),
	}
}

func (m *mockGateway) failNext(op string, errs ...error) {
	m.failures[op] = append(m.failures[op], errs...)
}

func (m *mockGateway) popFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

func (m *mockGateway) List(ctx context.Context) ([]*domain.Task, error) {
	m.calls = append(m.calls, "list")
	if err := m.popFailure("list"); err != nil {
		return nil, err
	}
	var tasks []*domain.Task
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (m *mockGateway) Create(ctx context.Context, req *domain.CreateTaskRequest) (*domain.Task, error) {
	m.calls = append(m.calls, "create:"+req.Title)
	if err := m.popFailure("create"); err != nil {
		return nil, err
	}
	m.nextID++
	task := &domain.Task{
		ID:          "srv-" + string(rune('a'+m.nextID-1)),
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	}
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	m.tasks[task.ID] = task
	return task, nil
}

func (m *mockGateway) Update(ctx context.Context, id string, req *domain.UpdateTaskRequest) (*domain.Task, error) {
	m.calls = append(m.calls, "update:"+id)
	if err := m.popFailure("update"); err != nil {
		return nil, err
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil, &gateway.APIError{Category: gateway.CategoryNotFound, StatusCode: 404}
	}
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	return task, nil
}

func (m *mockGateway) Delete(ctx context.Context, id string) error {
	m.calls = append(m.calls, "delete:"+id)
	if err := m.popFailure("delete"); err != nil {
		return err
	}
	if _, ok := m.tasks[id]; !ok {
		return &gateway.APIError{Category: gateway.CategoryNotFound, StatusCode: 404}
	}
	delete(m.tasks, id)
	return nil
}

func netErr() *gateway.APIError {
	return &gateway.APIError{Category: gateway.CategoryNetwork, Err: errors.New("connection refused")}
}

func newTestEngine(t *testing.T, gw TaskGateway, online bool) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng, err := New(gw, st, "user-1", online)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return eng, st
}

func TestFetchCacheFallback(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, true)

	gw.tasks["srv-1"] = &domain.Task{ID: "srv-1", Title: "cached task"}
	if _, err := eng.Fetch(context.Background()); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}

	gw.failNext("list", netErr())
	tasks, err := eng.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch with populated cache should not fail hard: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "cached task" {
		t.Errorf("expected the cached list, got %+v", tasks)
	}

	status := eng.Status()
	if !status.UsingCached {
		t.Error("expected the using-cached flag to be set")
	}
	if status.LastSyncError == "" {
		t.Error("expected the fetch failure to be recorded")
	}
}

func TestFetchNoCacheNoNetwork(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, true)

	gw.failNext("list", netErr())
	if _, err := eng.Fetch(context.Background()); err == nil {
		t.Fatal("expected a hard error with no cache and no network")
	}
}

func TestFetchOfflineWithoutCache(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, false)

	_, err := eng.Fetch(context.Background())
	if !errors.Is(err, ErrNoCachedData) {
		t.Fatalf("expected ErrNoCachedData, got %v", err)
	}
}

func TestOfflineCreateThenDrain(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, false)

	task, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "Buy cleats"})
	if err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
	if !strings.HasPrefix(task.ID, "pending-") {
		t.Errorf("expected a placeholder id, got %q", task.ID)
	}

	tasks := eng.Tasks()
	if len(tasks) != 1 || tasks[0].Title != "Buy cleats" {
		t.Fatalf("expected the optimistic task in the cache, got %+v", tasks)
	}

	count, err := st.PendingCount("user-1")
	if err != nil {
		t.Fatalf("failed to count queue: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 queued operation, got %d", count)
	}

	if err := eng.SetOnline(context.Background(), true); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	count, _ = st.PendingCount("user-1")
	if count != 0 {
		t.Errorf("expected an empty queue after drain, got %d entries", count)
	}

	tasks, err = eng.Fetch(context.Background())
	if err != nil {
		t.Fatalf("post-drain fetch failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after drain, got %d", len(tasks))
	}
	if strings.HasPrefix(tasks[0].ID, "pending-") {
		t.Errorf("expected a server-assigned id, still have %q", tasks[0].ID)
	}
	if tasks[0].Title != "Buy cleats" {
		t.Errorf("expected title to survive the drain, got %q", tasks[0].Title)
	}
}

func TestDrainFIFOCreateBeforeUpdate(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, false)

	task, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "A"})
	if err != nil {
		t.Fatalf("offline create failed: %v", err)
	}

	done := domain.StatusCompleted
	if _, err := eng.Update(context.Background(), task.ID, &domain.UpdateTaskRequest{Status: &done}); err != nil {
		t.Fatalf("offline update failed: %v", err)
	}

	if err := eng.SetOnline(context.Background(), true); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	// The create must be replayed first, and the queued update must be
	// retargeted from the placeholder to the server-assigned id.
	var createIdx, updateIdx = -1, -1
	for i, call := range gw.calls {
		if strings.HasPrefix(call, "create:") && createIdx == -1 {
			createIdx = i
		}
		if strings.HasPrefix(call, "update:") && updateIdx == -1 {
			updateIdx = i
		}
	}
	if createIdx == -1 || updateIdx == -1 || createIdx > updateIdx {
		t.Fatalf("expected create before update, calls were %v", gw.calls)
	}

	var final *domain.Task
	for _, srvTask := range gw.tasks {
		final = srvTask
	}
	if final == nil || final.Status != domain.StatusCompleted {
		t.Errorf("expected the server task to end up completed, got %+v", final)
	}
}

func TestDrainRetryCap(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, false)

	if _, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "doomed"}); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}

	gw.failNext("create", netErr(), netErr(), netErr(), netErr(), netErr())

	err := eng.Drain(context.Background())
	if err == nil {
		t.Fatal("expected an aggregate sync error")
	}

	attempts := 0
	for _, call := range gw.calls {
		if strings.HasPrefix(call, "create:") {
			attempts++
		}
	}
	if attempts != maxDrainRetries {
		t.Errorf("expected exactly %d attempts, got %d", maxDrainRetries, attempts)
	}

	count, _ := st.PendingCount("user-1")
	if count != 0 {
		t.Errorf("expected the operation to be dropped from the queue, got %d entries", count)
	}

	// A second drain must not retry the dropped operation.
	before := len(gw.calls)
	if err := eng.Drain(context.Background()); err != nil {
		t.Fatalf("empty drain failed: %v", err)
	}
	for _, call := range gw.calls[before:] {
		if strings.HasPrefix(call, "create:") {
			t.Errorf("dropped operation was retried: %v", gw.calls[before:])
		}
	}
}

func TestDrainDropsDependentsOfFailedCreate(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, false)

	task, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "never lands"})
	if err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
	done := domain.StatusCompleted
	if _, err := eng.Update(context.Background(), task.ID, &domain.UpdateTaskRequest{Status: &done}); err != nil {
		t.Fatalf("offline update failed: %v", err)
	}

	gw.failNext("create", &gateway.APIError{Category: gateway.CategoryValidation, StatusCode: 400})

	if err := eng.Drain(context.Background()); err == nil {
		t.Fatal("expected an aggregate sync error")
	}

	for _, call := range gw.calls {
		if strings.HasPrefix(call, "update:") {
			t.Errorf("dependent update was replayed against a dropped create: %v", gw.calls)
		}
	}

	count, _ := st.PendingCount("user-1")
	if count != 0 {
		t.Errorf("expected the dependent operation to be removed, got %d entries", count)
	}
}

func TestDrainContinuesPastFailures(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, false)

	if _, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "first"}); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
	if _, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "second"}); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}

	gw.failNext("create", &gateway.APIError{Category: gateway.CategoryValidation, StatusCode: 400})

	if err := eng.Drain(context.Background()); err == nil {
		t.Fatal("expected an aggregate sync error")
	}

	found := false
	for _, srvTask := range gw.tasks {
		if srvTask.Title == "second" {
			found = true
		}
	}
	if !found {
		t.Error("expected the second create to land despite the first failing")
	}
}

func TestDrainAbortsOnAuthFailure(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, false)

	if _, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "first"}); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
	if _, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "second"}); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}

	gw.failNext("create", &gateway.APIError{Category: gateway.CategoryUnauthorized, StatusCode: 401})
	gw.failNext("list", &gateway.APIError{Category: gateway.CategoryUnauthorized, StatusCode: 401})

	_ = eng.Drain(context.Background())

	// Both operations must stay queued for a replay after re-login.
	count, _ := st.PendingCount("user-1")
	if count != 2 {
		t.Errorf("expected the queue to survive an auth failure, got %d entries", count)
	}
	if eng.Status().LastSyncError == "" {
		t.Error("expected the auth failure to be surfaced")
	}
}

func TestDrainRewriteSurvivesAuthAbort(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, false)

	task, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "A"})
	if err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
	done := domain.StatusCompleted
	if _, err := eng.Update(context.Background(), task.ID, &domain.UpdateTaskRequest{Status: &done}); err != nil {
		t.Fatalf("offline update failed: %v", err)
	}

	// First pass: the create lands, then the token expires before the
	// dependent update. The drain aborts and leaves the update queued.
	gw.failNext("update", &gateway.APIError{Category: gateway.CategoryUnauthorized, StatusCode: 401})
	_ = eng.Drain(context.Background())

	ops, err := st.Pending("user-1")
	if err != nil {
		t.Fatalf("failed to read queue: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != store.OpUpdate {
		t.Fatalf("expected the update to survive the abort, got %+v", ops)
	}
	if strings.HasPrefix(ops[0].TaskID, "pending-") {
		t.Fatalf("queued update still targets the placeholder id %q", ops[0].TaskID)
	}

	// Second pass after re-login: the update must replay against the
	// server-assigned id, not the stale placeholder.
	if err := eng.Drain(context.Background()); err != nil {
		t.Fatalf("second drain failed: %v", err)
	}

	count, _ := st.PendingCount("user-1")
	if count != 0 {
		t.Errorf("expected an empty queue, got %d entries", count)
	}
	var final *domain.Task
	for _, srvTask := range gw.tasks {
		final = srvTask
	}
	if final == nil || final.Status != domain.StatusCompleted {
		t.Errorf("queued update was lost across drain passes, server task: %+v", final)
	}
}

func TestFetchPrunesStalePendingIDs(t *testing.T) {
	gw := newMockGateway()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	offline, err := New(gw, st, "user-1", false)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	if _, err := offline.Create(context.Background(), &domain.CreateTaskRequest{Title: "queued"}); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}

	// A fresh session fetches before draining; the snapshot it persists
	// must not keep pending markers for tasks the list no longer holds.
	restarted, err := New(gw, st, "user-1", true)
	if err != nil {
		t.Fatalf("failed to rebuild engine: %v", err)
	}
	if _, err := restarted.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	snap, err := st.LoadSnapshot("user-1")
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(snap.PendingIDs) != 0 {
		t.Errorf("snapshot keeps pending ids that reference nothing: %v", snap.PendingIDs)
	}
}

func TestValidationNeverQueued(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, false)

	if _, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "   "}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}

	count, _ := st.PendingCount("user-1")
	if count != 0 {
		t.Errorf("validation failures must not be queued, got %d entries", count)
	}
}

func TestOnlineMutationPatchesCache(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, true)

	task, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "online"})
	if err != nil {
		t.Fatalf("online create failed: %v", err)
	}

	tasks := eng.Tasks()
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("expected the created task in the cache, got %+v", tasks)
	}

	if err := eng.Delete(context.Background(), task.ID); err != nil {
		t.Fatalf("online delete failed: %v", err)
	}
	if tasks := eng.Tasks(); len(tasks) != 0 {
		t.Errorf("expected an empty cache after delete, got %+v", tasks)
	}
}

func TestNetworkFailureQueuesMutation(t *testing.T) {
	gw := newMockGateway()
	eng, st := newTestEngine(t, gw, true)

	gw.failNext("create", netErr())

	task, err := eng.Create(context.Background(), &domain.CreateTaskRequest{Title: "flaky"})
	if err != nil {
		t.Fatalf("expected the mutation to be queued, got %v", err)
	}
	if !strings.HasPrefix(task.ID, "pending-") {
		t.Errorf("expected a placeholder id after the network failure, got %q", task.ID)
	}
	if eng.Status().Online {
		t.Error("expected the engine to mark itself offline")
	}

	count, _ := st.PendingCount("user-1")
	if count != 1 {
		t.Errorf("expected 1 queued operation, got %d", count)
	}
}

func TestHandleEventIdempotentDelete(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, true)

	gw.tasks["srv-x"] = &domain.Task{ID: "srv-x", Title: "x"}
	if _, err := eng.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	event, err := websocket.NewEvent(websocket.EventTaskDeleted, &websocket.TaskDeletedPayload{TaskID: "srv-x"})
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}

	eng.HandleEvent(event)
	if tasks := eng.Tasks(); len(tasks) != 0 {
		t.Fatalf("expected the task removed, got %+v", tasks)
	}

	// Duplicate delivery is a no-op.
	eng.HandleEvent(event)
	if tasks := eng.Tasks(); len(tasks) != 0 {
		t.Errorf("duplicate delete changed the cache: %+v", tasks)
	}
}

func TestHandleEventConcurrentSessionUpdate(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, true)

	gw.tasks["srv-x"] = &domain.Task{ID: "srv-x", Title: "x", Status: domain.StatusTodo}
	if _, err := eng.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// Another session completed the task; this engine only sees the event.
	updated := &domain.Task{ID: "srv-x", Title: "x", Status: domain.StatusCompleted}
	event, err := websocket.NewEvent(websocket.EventTaskUpdated, &websocket.TaskUpdatedPayload{Task: updated})
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	eng.HandleEvent(event)

	tasks := eng.Tasks()
	if len(tasks) != 1 || tasks[0].Status != domain.StatusCompleted {
		t.Errorf("expected the fold to apply the remote update, got %+v", tasks)
	}
	if len(gw.calls) != 1 {
		t.Errorf("the fold must not trigger requests, calls were %v", gw.calls)
	}
}

func TestHandleEventCreatedDuplicate(t *testing.T) {
	gw := newMockGateway()
	eng, _ := newTestEngine(t, gw, true)

	task := &domain.Task{ID: "srv-y", Title: "y"}
	event, err := websocket.NewEvent(websocket.EventTaskCreated, &websocket.TaskCreatedPayload{Task: task})
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}

	eng.HandleEvent(event)
	eng.HandleEvent(event)

	if tasks := eng.Tasks(); len(tasks) != 1 {
		t.Errorf("expected one task after duplicate created events, got %d", len(tasks))
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	gw := newMockGateway()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	eng, err := New(gw, st, "user-1", true)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	gw.tasks["srv-1"] = &domain.Task{ID: "srv-1", Title: "persisted"}
	if _, err := eng.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// A fresh engine over the same store starts from the cached snapshot.
	restarted, err := New(gw, st, "user-1", false)
	if err != nil {
		t.Fatalf("failed to rebuild engine: %v", err)
	}
	tasks, err := restarted.Fetch(context.Background())
	if err != nil {
		t.Fatalf("offline fetch after restart failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "persisted" {
		t.Errorf("expected the snapshot to survive, got %+v", tasks)
	}
}
