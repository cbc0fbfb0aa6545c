package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"tasksync/internal/domain"
)

func newTestManager() *Manager {
	return NewManager(2, time.Second, time.Second, time.Second)
}

func testClient(id, userID string) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan []byte, 8),
	}
}

func TestBroadcastFansOutToAllAccountConnections(t *testing.T) {
	m := newTestManager()

	a := testClient("conn-a", "user-1")
	b := testClient("conn-b", "user-1")
	other := testClient("conn-c", "user-2")
	m.registerClient(a)
	m.registerClient(b)
	m.registerClient(other)

	event, err := NewEvent(EventTaskCreated, &TaskCreatedPayload{Task: &domain.Task{ID: "t1", Title: "x"}})
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	if err := m.BroadcastToUser("user-1", event); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	for _, client := range []*Client{a, b} {
		select {
		case data := <-client.Send:
			var got Event
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("malformed frame: %v", err)
			}
			if got.Type != EventTaskCreated {
				t.Errorf("client %s: expected %s, got %s", client.ID, EventTaskCreated, got.Type)
			}
		default:
			t.Errorf("client %s received nothing", client.ID)
		}
	}

	select {
	case <-other.Send:
		t.Error("event leaked to another account's connection")
	default:
	}
}

func TestBroadcastUnknownAccountIsNoop(t *testing.T) {
	m := newTestManager()

	event, err := NewEvent(EventTaskDeleted, &TaskDeletedPayload{TaskID: "t1"})
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	if err := m.BroadcastToUser("nobody", event); err != nil {
		t.Errorf("broadcast to an account with no connections must not fail: %v", err)
	}
}

func TestConnectionCapPerUser(t *testing.T) {
	m := newTestManager()

	m.registerClient(testClient("c1", "user-1"))
	m.registerClient(testClient("c2", "user-1"))

	over := testClient("c3", "user-1")
	m.registerClient(over)

	if m.UserConnectionCount("user-1") != 2 {
		t.Errorf("expected the cap to hold at 2, got %d", m.UserConnectionCount("user-1"))
	}
	// The rejected client's send channel is closed so its pumps exit.
	select {
	case _, open := <-over.Send:
		if open {
			t.Error("expected the rejected client's channel to be closed")
		}
	default:
		t.Error("expected the rejected client's channel to be closed")
	}
}

func TestUnregisterRemovesFromIndex(t *testing.T) {
	m := newTestManager()

	client := testClient("c1", "user-1")
	m.registerClient(client)
	m.unregisterClient(client)

	if m.UserConnectionCount("user-1") != 0 {
		t.Errorf("expected 0 connections after unregister, got %d", m.UserConnectionCount("user-1"))
	}

	event, _ := NewEvent(EventTaskDeleted, &TaskDeletedPayload{TaskID: "t1"})
	if err := m.BroadcastToUser("user-1", event); err != nil {
		t.Errorf("broadcast after unregister failed: %v", err)
	}
}

func TestProcessMessagePingRepliesPong(t *testing.T) {
	m := newTestManager()

	client := testClient("c1", "user-1")
	m.registerClient(client)

	ping, _ := NewEvent(EventPing, nil)
	data, _ := json.Marshal(ping)
	m.processMessage(&ClientMessage{Client: client, Message: data})

	select {
	case frame := <-client.Send:
		var got Event
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		if got.Type != EventPong {
			t.Errorf("expected pong, got %s", got.Type)
		}
	default:
		t.Error("no pong reply")
	}
}
