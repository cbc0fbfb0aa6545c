package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"tasksync/internal/domain"
	"tasksync/internal/middleware"
	"tasksync/internal/service"
	"tasksync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type TaskHandler struct {
	service  *service.TaskService
	validate *validator.Validate
}

func NewTaskHandler(service *service.TaskService) *TaskHandler {
	return &TaskHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	task, err := h.service.Create(userID, &req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create task")
		return
	}

	response.Created(w, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	tasks, err := h.service.List(userID)
	if err != nil {
		response.InternalError(w, "Failed to list tasks")
		return
	}

	response.Success(w, &domain.TaskListResponse{
		Tasks: tasks,
		Count: len(tasks),
	})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if taskID == "" {
		response.BadRequest(w, "Task ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	task, err := h.service.GetByID(userID, taskID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to fetch task")
		return
	}

	response.Success(w, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if taskID == "" {
		response.BadRequest(w, "Task ID is required")
		return
	}

	var req domain.UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	task, err := h.service.Update(userID, taskID, &req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to update task")
		return
	}

	response.Success(w, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if taskID == "" {
		response.BadRequest(w, "Task ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Delete(userID, taskID); err != nil {
		h.writeServiceError(w, err, "Failed to delete task")
		return
	}

	response.Success(w, &domain.DeleteTaskResponse{TaskID: taskID})
}

// writeServiceError keeps 403 and 404 distinct so a client never mistakes a
// task it does not own for one that was deleted.
func (h *TaskHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNotOwner):
		response.Forbidden(w, "Access denied. You do not own this task.")
	case errors.Is(err, service.ErrTaskNotFound):
		response.NotFound(w, "Task not found")
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w, fallback)
	}
}
