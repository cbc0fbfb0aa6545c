package engine

import "tasksync/internal/domain"

// The folds below apply a remote event to a task list. Each one is a pure
// function and is idempotent: replaying the same event leaves the list
// unchanged, so duplicated deliveries after a reconnect are harmless.

func foldCreated(tasks []*domain.Task, task *domain.Task) []*domain.Task {
	for _, t := range tasks {
		if t.ID == task.ID {
			return tasks
		}
	}
	next := make([]*domain.Task, 0, len(tasks)+1)
	next = append(next, tasks...)
	next = append(next, task)
	return next
}

func foldUpdated(tasks []*domain.Task, task *domain.Task) []*domain.Task {
	for i, t := range tasks {
		if t.ID == task.ID {
			next := make([]*domain.Task, len(tasks))
			copy(next, tasks)
			next[i] = task
			return next
		}
	}
	// Unknown id is a no-op; a later full fetch will pick the task up.
	return tasks
}

func foldDeleted(tasks []*domain.Task, taskID string) []*domain.Task {
	next := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != taskID {
			next = append(next, t)
		}
	}
	return next
}
