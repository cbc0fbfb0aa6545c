// Package engine keeps the client's task view consistent with the server
// across connectivity transitions. Online mutations go straight to the
// gateway; offline mutations are queued durably and applied optimistically;
// a reconnect drains the queue in enqueue order before refetching server
// truth. Remote events are folded into the same snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tasksync/internal/client/gateway"
	"tasksync/internal/client/store"
	"tasksync/internal/domain"
	"tasksync/internal/websocket"

	"github.com/google/uuid"
)

const maxDrainRetries = 3

// ErrEmptyTitle is surfaced immediately; validation failures are never
// queued.
var ErrEmptyTitle = errors.New("title must not be empty")

// ErrNoCachedData means the client is offline and has never completed a
// fetch for this account.
var ErrNoCachedData = errors.New("no cached data available")

// TaskGateway is the subset of the remote API the engine drives.
type TaskGateway interface {
	List(ctx context.Context) ([]*domain.Task, error)
	Create(ctx context.Context, req *domain.CreateTaskRequest) (*domain.Task, error)
	Update(ctx context.Context, id string, req *domain.UpdateTaskRequest) (*domain.Task, error)
	Delete(ctx context.Context, id string) error
}

// Status is the read-only view published to the presentation layer. The
// three flags are independent; offline-with-cache, failed-sync-with-cache
// and pending-changes can all be true at once.
type Status struct {
	Online         bool
	Syncing        bool
	UsingCached    bool
	PendingChanges int
	LastSyncError  string
}

type Engine struct {
	gw        TaskGateway
	store     *store.Store
	accountID string

	mu          sync.Mutex
	online      bool
	syncing     bool
	usingCached bool
	lastSyncErr error
	tasks       []*domain.Task
	pending     map[string]bool // placeholder ids awaiting a server id
}

// New builds an engine bound to one account, restoring the cached snapshot
// if one survives from an earlier run.
func New(gw TaskGateway, st *store.Store, accountID string, online bool) (*Engine, error) {
	e := &Engine{
		gw:        gw,
		store:     st,
		accountID: accountID,
		online:    online,
		pending:   make(map[string]bool),
	}

	snap, err := st.LoadSnapshot(accountID)
	if err != nil && !errors.Is(err, store.ErrNoSnapshot) {
		return nil, err
	}
	if snap != nil {
		e.tasks = snap.Tasks
		for _, id := range snap.PendingIDs {
			e.pending[id] = true
		}
		e.usingCached = true
	}

	return e, nil
}

// Fetch refreshes the task list from the server when online, falling back
// to the cached snapshot when the network fails or the client is offline.
func (e *Engine) Fetch(ctx context.Context) ([]*domain.Task, error) {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()

	if !online {
		return e.serveCached(nil)
	}

	tasks, err := e.gw.List(ctx)
	if err != nil {
		if gateway.Classify(err) == gateway.CategoryNetwork {
			e.markOffline()
		}
		return e.serveCached(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = tasks
	// The fetched list is server truth and never contains placeholder ids;
	// drop pending markers that no longer reference a task in the snapshot.
	for id := range e.pending {
		if !containsID(tasks, id) {
			delete(e.pending, id)
		}
	}
	e.usingCached = false
	e.lastSyncErr = nil
	e.persistLocked()
	return e.snapshotLocked(), nil
}

func containsID(tasks []*domain.Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// serveCached returns the cached list flagged as stale. cause is the fetch
// failure, nil when the client was offline to begin with.
func (e *Engine) serveCached(cause error) ([]*domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tasks == nil {
		if cause != nil {
			return nil, cause
		}
		return nil, ErrNoCachedData
	}

	e.usingCached = true
	if cause != nil {
		e.lastSyncErr = cause
	}
	return e.snapshotLocked(), nil
}

// Create makes a task. Offline (or on a network failure mid-request) the
// task is queued and shown immediately under a placeholder id.
func (e *Engine) Create(ctx context.Context, req *domain.CreateTaskRequest) (*domain.Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, ErrEmptyTitle
	}

	e.mu.Lock()
	online := e.online
	e.mu.Unlock()

	if online {
		task, err := e.gw.Create(ctx, req)
		if err == nil {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.tasks = foldCreated(e.tasks, task)
			e.persistLocked()
			return task, nil
		}
		if gateway.Classify(err) != gateway.CategoryNetwork {
			return nil, err
		}
		e.markOffline()
	}

	return e.queueCreate(req)
}

// Update patches a task. The same partial payload drives both the server
// call and the optimistic local patch.
func (e *Engine) Update(ctx context.Context, id string, req *domain.UpdateTaskRequest) (*domain.Task, error) {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, ErrEmptyTitle
	}

	e.mu.Lock()
	online := e.online
	e.mu.Unlock()

	if online {
		task, err := e.gw.Update(ctx, id, req)
		if err == nil {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.tasks = foldUpdated(e.tasks, task)
			e.persistLocked()
			return task, nil
		}
		if gateway.Classify(err) != gateway.CategoryNetwork {
			return nil, err
		}
		e.markOffline()
	}

	return e.queueUpdate(id, req)
}

// Delete removes a task, queueing the removal when offline.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()

	if online {
		err := e.gw.Delete(ctx, id)
		if err == nil {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.tasks = foldDeleted(e.tasks, id)
			delete(e.pending, id)
			e.persistLocked()
			return nil
		}
		if gateway.Classify(err) != gateway.CategoryNetwork {
			return err
		}
		e.markOffline()
	}

	return e.queueDelete(id)
}

func (e *Engine) queueCreate(req *domain.CreateTaskRequest) (*domain.Task, error) {
	localID := "pending-" + uuid.New().String()
	op := &store.Operation{
		Kind:    store.OpCreate,
		LocalID: localID,
		Create:  req,
	}
	if err := e.store.Append(e.accountID, op); err != nil {
		return nil, fmt.Errorf("failed to queue create: %w", err)
	}

	now := time.Now()
	task := &domain.Task{
		ID:          localID,
		UserID:      e.accountID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = foldCreated(e.tasks, task)
	e.pending[localID] = true
	e.persistLocked()
	return task, nil
}

func (e *Engine) queueUpdate(id string, req *domain.UpdateTaskRequest) (*domain.Task, error) {
	op := &store.Operation{
		Kind:   store.OpUpdate,
		TaskID: id,
		Update: req,
	}
	if err := e.store.Append(e.accountID, op); err != nil {
		return nil, fmt.Errorf("failed to queue update: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var patched *domain.Task
	for _, t := range e.tasks {
		if t.ID == id {
			patched = patchTask(t, req)
			break
		}
	}
	if patched != nil {
		e.tasks = foldUpdated(e.tasks, patched)
	}
	e.persistLocked()
	return patched, nil
}

func (e *Engine) queueDelete(id string) error {
	op := &store.Operation{
		Kind:   store.OpDelete,
		TaskID: id,
	}
	if err := e.store.Append(e.accountID, op); err != nil {
		return fmt.Errorf("failed to queue delete: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = foldDeleted(e.tasks, id)
	delete(e.pending, id)
	e.persistLocked()
	return nil
}

// SetOnline feeds the host connectivity signal in. The offline to online
// transition triggers a drain.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	if online && !wasOnline {
		return e.Drain(ctx)
	}
	return nil
}

// Drain replays every queued operation strictly in enqueue order, one at a
// time. Operations created for a still-unsynced task target its placeholder
// id; as each create succeeds its server-assigned id is substituted into
// later operations, so the create-before-update dependency holds even
// though each replay stands alone. A single failing operation never blocks
// the rest. After the pass a fresh fetch reconciles the cache, and an
// aggregate error reports any permanent failures.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	ops, err := e.store.Pending(e.accountID)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	// idMap substitutes server ids for placeholders as creates land;
	// dropped marks placeholders whose create failed permanently.
	idMap := make(map[string]string)
	dropped := make(map[string]bool)
	var failed []string

	for _, op := range ops {
		if op.TaskID != "" {
			if serverID, ok := idMap[op.TaskID]; ok {
				op.TaskID = serverID
			} else if dropped[op.TaskID] {
				// The create this depends on was dropped; replaying
				// against a task the server never saw cannot succeed.
				failed = append(failed, fmt.Sprintf("%s %s: skipped, create was dropped", op.Kind, op.TaskID))
				if err := e.store.Remove(e.accountID, op.ID); err != nil {
					log.Printf("engine: failed to remove skipped operation %s: %v", op.ID, err)
				}
				continue
			}
		}

		abort, failure := e.drainOne(ctx, op, idMap, dropped)
		if failure != "" {
			failed = append(failed, failure)
		}
		if abort {
			break
		}
	}

	if _, err := e.Fetch(ctx); err != nil {
		log.Printf("engine: post-drain fetch failed: %v", err)
	}

	if len(failed) > 0 {
		aggErr := fmt.Errorf("%d queued operations failed permanently: %s", len(failed), strings.Join(failed, "; "))
		e.mu.Lock()
		e.lastSyncErr = aggErr
		e.mu.Unlock()
		return aggErr
	}
	return nil
}

// drainOne replays a single operation until it succeeds, fails terminally
// or exhausts its retry budget. It returns abort=true only on an auth
// failure, which leaves the queue intact for a replay after re-login.
func (e *Engine) drainOne(ctx context.Context, op *store.Operation, idMap map[string]string, dropped map[string]bool) (abort bool, failure string) {
	for {
		err := e.applyOp(ctx, op, idMap)
		if err == nil {
			if removeErr := e.store.Remove(e.accountID, op.ID); removeErr != nil {
				log.Printf("engine: failed to remove drained operation %s: %v", op.ID, removeErr)
			}
			return false, ""
		}

		category := gateway.Classify(err)
		if category == gateway.CategoryUnauthorized {
			// Re-authentication is required; every later operation would
			// fail the same way, so stop without consuming the queue.
			e.mu.Lock()
			e.lastSyncErr = err
			e.mu.Unlock()
			return true, ""
		}

		if !gateway.IsRetryable(err) {
			e.dropOp(op, dropped, err)
			return false, fmt.Sprintf("%s: %v", op.Kind, err)
		}

		op.RetryCount++
		if updateErr := e.store.UpdateRetry(e.accountID, op.ID, op.RetryCount, err.Error()); updateErr != nil {
			log.Printf("engine: failed to record retry for operation %s: %v", op.ID, updateErr)
		}
		if op.RetryCount >= maxDrainRetries {
			e.dropOp(op, dropped, err)
			return false, fmt.Sprintf("%s: gave up after %d attempts: %v", op.Kind, op.RetryCount, err)
		}
	}
}

func (e *Engine) dropOp(op *store.Operation, dropped map[string]bool, cause error) {
	log.Printf("engine: dropping %s operation %s: %v", op.Kind, op.ID, cause)
	if op.Kind == store.OpCreate {
		dropped[op.LocalID] = true
		e.mu.Lock()
		e.tasks = foldDeleted(e.tasks, op.LocalID)
		delete(e.pending, op.LocalID)
		e.persistLocked()
		e.mu.Unlock()
	}
	if err := e.store.Remove(e.accountID, op.ID); err != nil {
		log.Printf("engine: failed to remove dropped operation %s: %v", op.ID, err)
	}
}

func (e *Engine) applyOp(ctx context.Context, op *store.Operation, idMap map[string]string) error {
	switch op.Kind {
	case store.OpCreate:
		task, err := e.gw.Create(ctx, op.Create)
		if err != nil {
			return err
		}
		idMap[op.LocalID] = task.ID
		// Persist the rewrite so dependents keep the server id even when
		// this pass aborts or the process restarts before reaching them.
		if err := e.store.RewriteTarget(e.accountID, op.LocalID, task.ID); err != nil {
			log.Printf("engine: failed to rewrite queued targets of %s: %v", op.LocalID, err)
		}
		e.mu.Lock()
		e.tasks = foldDeleted(e.tasks, op.LocalID)
		e.tasks = foldCreated(e.tasks, task)
		delete(e.pending, op.LocalID)
		e.persistLocked()
		e.mu.Unlock()
		return nil
	case store.OpUpdate:
		_, err := e.gw.Update(ctx, op.TaskID, op.Update)
		return err
	case store.OpDelete:
		err := e.gw.Delete(ctx, op.TaskID)
		if gateway.Classify(err) == gateway.CategoryNotFound {
			// Already gone, which is the outcome we wanted.
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// HandleEvent folds a remote change notification into the cached list and
// persists the result. Folds are idempotent, so duplicate delivery after a
// reconnect is harmless.
func (e *Engine) HandleEvent(event *websocket.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch event.Type {
	case websocket.EventTaskCreated:
		var payload websocket.TaskCreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			log.Printf("engine: dropping malformed %s event: %v", event.Type, err)
			return
		}
		e.tasks = foldCreated(e.tasks, payload.Task)
	case websocket.EventTaskUpdated:
		var payload websocket.TaskUpdatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			log.Printf("engine: dropping malformed %s event: %v", event.Type, err)
			return
		}
		e.tasks = foldUpdated(e.tasks, payload.Task)
	case websocket.EventTaskDeleted:
		var payload websocket.TaskDeletedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			log.Printf("engine: dropping malformed %s event: %v", event.Type, err)
			return
		}
		e.tasks = foldDeleted(e.tasks, payload.TaskID)
	default:
		return
	}

	e.persistLocked()
}

// Tasks returns the current view of the task list.
func (e *Engine) Tasks() []*domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Status() Status {
	count, err := e.store.PendingCount(e.accountID)
	if err != nil {
		log.Printf("engine: failed to count pending operations: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Online:         e.online,
		Syncing:        e.syncing,
		UsingCached:    e.usingCached,
		PendingChanges: count,
	}
	if e.lastSyncErr != nil {
		s.LastSyncError = e.lastSyncErr.Error()
	}
	return s
}

func (e *Engine) markOffline() {
	e.mu.Lock()
	e.online = false
	e.mu.Unlock()
}

// persistLocked writes the current list back as the account's snapshot.
// Callers must hold e.mu.
func (e *Engine) persistLocked() {
	pendingIDs := make([]string, 0, len(e.pending))
	for id := range e.pending {
		pendingIDs = append(pendingIDs, id)
	}

	snap := &store.Snapshot{
		Tasks:      e.tasks,
		PendingIDs: pendingIDs,
		CapturedAt: time.Now(),
	}
	if err := e.store.SaveSnapshot(e.accountID, snap); err != nil {
		log.Printf("engine: failed to persist snapshot: %v", err)
	}
}

// snapshotLocked returns a copy of the list so callers never share the
// engine's backing slice. Callers must hold e.mu.
func (e *Engine) snapshotLocked() []*domain.Task {
	tasks := make([]*domain.Task, len(e.tasks))
	copy(tasks, e.tasks)
	return tasks
}

// patchTask applies a partial update to a copy of the task.
func patchTask(t *domain.Task, req *domain.UpdateTaskRequest) *domain.Task {
	next := *t
	if req.Title != nil {
		next.Title = *req.Title
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if req.Status != nil {
		next.Status = *req.Status
	}
	if req.Priority != nil {
		next.Priority = *req.Priority
	}
	if req.DueDate != nil {
		next.DueDate = req.DueDate
	}
	next.UpdatedAt = time.Now()
	return &next
}
