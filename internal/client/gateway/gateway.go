// Package gateway performs the client's task CRUD round trips. Each call is
// one request/response against the server's task API; failures are returned
// as classified APIErrors so the caller can decide between queueing,
// surfacing, or forcing re-authentication.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tasksync/internal/domain"
)

type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Gateway {
	return &Gateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken swaps the bearer credential after a login or refresh.
func (g *Gateway) SetToken(token string) {
	g.token = token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

func (g *Gateway) List(ctx context.Context) ([]*domain.Task, error) {
	var result domain.TaskListResponse
	if err := g.do(ctx, http.MethodGet, "/api/v1/tasks", nil, &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

func (g *Gateway) Get(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := g.do(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (g *Gateway) Create(ctx context.Context, req *domain.CreateTaskRequest) (*domain.Task, error) {
	var task domain.Task
	if err := g.do(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (g *Gateway) Update(ctx context.Context, id string, req *domain.UpdateTaskRequest) (*domain.Task, error) {
	var task domain.Task
	if err := g.do(ctx, http.MethodPut, "/api/v1/tasks/"+id, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (g *Gateway) Delete(ctx context.Context, id string) error {
	var result domain.DeleteTaskResponse
	return g.do(ctx, http.MethodDelete, "/api/v1/tasks/"+id, nil, &result)
}

// Login authenticates with local credentials and returns the issued tokens.
func (g *Gateway) Login(ctx context.Context, email, password string) (*domain.LoginResponse, error) {
	var result domain.LoginResponse
	req := &domain.LoginRequest{Email: email, Password: password}
	if err := g.do(ctx, http.MethodPost, "/api/v1/auth/login", req, &result); err != nil {
		return nil, err
	}
	g.token = result.AccessToken
	return &result, nil
}

func (g *Gateway) Register(ctx context.Context, username, email, password string) error {
	req := &domain.RegisterRequest{Username: username, Email: email, Password: password}
	return g.do(ctx, http.MethodPost, "/api/v1/auth/register", req, nil)
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return classifyStatus(resp.StatusCode, "")
		}
		return networkError(fmt.Errorf("malformed response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, env.Error)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return networkError(fmt.Errorf("malformed response data: %w", err))
		}
	}

	return nil
}

func classifyStatus(statusCode int, message string) *APIError {
	category := CategoryServer
	switch statusCode {
	case http.StatusBadRequest:
		category = CategoryValidation
	case http.StatusUnauthorized:
		category = CategoryUnauthorized
	case http.StatusForbidden:
		category = CategoryForbidden
	case http.StatusNotFound:
		category = CategoryNotFound
	}

	return &APIError{
		Category:   category,
		StatusCode: statusCode,
		Message:    message,
	}
}
