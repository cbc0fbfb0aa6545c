package repository

import (
	"context"
	"errors"
	"fmt"

	"tasksync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ErrNotFound is returned when a document does not exist. Callers must not
// conflate this with an ownership failure, which is decided at the service
// layer.
var ErrNotFound = errors.New("document not found")

type TaskRepository interface {
	Create(task *domain.Task) error
	FindByID(id string) (*domain.Task, error)
	ListByUser(userID string) ([]*domain.Task, error)
	Update(task *domain.Task) error
	Delete(id string) error
}

type taskRepository struct {
	client *kivik.Client
	dbName string
}

func NewTaskRepository(client *kivik.Client, dbName string) TaskRepository {
	return &taskRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *taskRepository) Create(task *domain.Task) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("task:%s", task.ID)
	_, err := db.Put(context.Background(), docID, task)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (r *taskRepository) FindByID(id string) (*domain.Task, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("task:%s", id)
	row := db.Get(context.Background(), docID)

	var task domain.Task
	if err := row.ScanDoc(&task); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	return &task, nil
}

func (r *taskRepository) ListByUser(userID string) ([]*domain.Task, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id": userID,
			"title":   map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var task domain.Task
		if err := rows.ScanDoc(&task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}

	return tasks, nil
}

func (r *taskRepository) Update(task *domain.Task) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("task:%s", task.ID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch existing task for update: %w", err)
	}

	existingDoc["title"] = task.Title
	existingDoc["description"] = task.Description
	existingDoc["status"] = task.Status
	existingDoc["priority"] = task.Priority
	existingDoc["updated_at"] = task.UpdatedAt

	if task.DueDate != nil {
		existingDoc["due_date"] = *task.DueDate
	} else {
		delete(existingDoc, "due_date")
	}

	_, err := db.Put(context.Background(), docID, existingDoc)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	return nil
}

func (r *taskRepository) Delete(id string) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("task:%s", id)

	row := db.Get(context.Background(), docID)
	var existingDoc map[string]interface{}
	if err := row.ScanDoc(&existingDoc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch task for delete: %w", err)
	}

	rev, _ := existingDoc["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}
