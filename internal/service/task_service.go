package service

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/repository"
	"tasksync/internal/websocket"

	"github.com/google/uuid"
)

// EventBroadcaster fans a task event out to every connection bound to the
// owning account. The websocket manager satisfies this; tests substitute a
// recording implementation.
type EventBroadcaster interface {
	BroadcastToUser(userID string, event *websocket.Event) error
}

// TaskService owns the authoritative task state. Events are emitted only
// after the repository write commits; a crash in between produces a missed
// event that the next fetch corrects, never a phantom event.
type TaskService struct {
	repo        repository.TaskRepository
	broadcaster EventBroadcaster
}

func NewTaskService(repo repository.TaskRepository, broadcaster EventBroadcaster) *TaskService {
	return &TaskService{
		repo:        repo,
		broadcaster: broadcaster,
	}
}

func (s *TaskService) Create(userID string, req *domain.CreateTaskRequest) (*domain.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	status := req.Status
	if status == "" {
		status = domain.StatusTodo
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}

	now := time.Now()
	task := &domain.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      status,
		Priority:    priority,
		DueDate:     req.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(task); err != nil {
		return nil, err
	}

	s.emit(userID, websocket.EventTaskCreated, &websocket.TaskCreatedPayload{Task: task})

	return task, nil
}

func (s *TaskService) List(userID string) ([]*domain.Task, error) {
	return s.repo.ListByUser(userID)
}

func (s *TaskService) GetByID(userID, taskID string) (*domain.Task, error) {
	task, err := s.findOwned(userID, taskID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) Update(userID, taskID string, req *domain.UpdateTaskRequest) (*domain.Task, error) {
	task, err := s.findOwned(userID, taskID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		task.Title = title
	}
	if req.Description != nil {
		task.Description = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
	}

	task.UpdatedAt = time.Now()

	if err := s.repo.Update(task); err != nil {
		return nil, err
	}

	s.emit(userID, websocket.EventTaskUpdated, &websocket.TaskUpdatedPayload{Task: task})

	return task, nil
}

func (s *TaskService) Delete(userID, taskID string) error {
	if _, err := s.findOwned(userID, taskID); err != nil {
		return err
	}

	if err := s.repo.Delete(taskID); err != nil {
		return err
	}

	s.emit(userID, websocket.EventTaskDeleted, &websocket.TaskDeletedPayload{TaskID: taskID})

	return nil
}

func (s *TaskService) findOwned(userID, taskID string) (*domain.Task, error) {
	task, err := s.repo.FindByID(taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	if task.UserID != userID {
		return nil, ErrNotOwner
	}

	return task, nil
}

func (s *TaskService) emit(userID string, eventType websocket.EventType, payload interface{}) {
	if s.broadcaster == nil {
		return
	}

	event, err := websocket.NewEvent(eventType, payload)
	if err != nil {
		log.Printf("failed to build %s event: %v", eventType, err)
		return
	}

	if err := s.broadcaster.BroadcastToUser(userID, event); err != nil {
		log.Printf("failed to broadcast %s event: %v", eventType, err)
	}
}
