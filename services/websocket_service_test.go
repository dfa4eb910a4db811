package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"citypulse/database"
	"citypulse/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() []models.Complaint {
	return []models.Complaint{
		{ID: "c-1", UserID: "user-1", Title: "Garbage", Status: models.StatusPending, Timestamp: 3000},
		{ID: "c-2", UserID: "user-2", Title: "Pothole", Status: models.StatusApproved, Timestamp: 2000},
		{ID: "c-3", UserID: "user-1", Title: "Polluted Water", Status: models.StatusDeclined, Timestamp: 1000},
	}
}

func TestFilterComplaints(t *testing.T) {
	snapshot := sampleSnapshot()

	t.Run("admin sees everything", func(t *testing.T) {
		assert.Len(t, filterComplaints(snapshot, "admin-1", true), 3)
	})

	t.Run("citizen sees own complaints only", func(t *testing.T) {
		filtered := filterComplaints(snapshot, "user-1", false)
		require.Len(t, filtered, 2)
		assert.Equal(t, "c-1", filtered[0].ID)
		assert.Equal(t, "c-3", filtered[1].ID)
	})

	t.Run("stranger sees empty non-nil slice", func(t *testing.T) {
		filtered := filterComplaints(snapshot, "user-9", false)
		assert.NotNil(t, filtered)
		assert.Len(t, filtered, 0)
	})
}

func decodeMessage(t *testing.T, raw []byte) models.ComplaintListResponse {
	t.Helper()

	var msg struct {
		Type string                       `json:"type"`
		Data models.ComplaintListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "complaints", msg.Type)
	return msg.Data
}

func newHubClient(hub *WebSocketHub, userID string, admin bool) *WebSocketClient {
	return &WebSocketClient{
		hub:    hub,
		send:   make(chan []byte, 4),
		userID: userID,
		admin:  admin,
	}
}

func receive(t *testing.T, client *WebSocketClient) []byte {
	t.Helper()
	select {
	case raw := <-client.send:
		return raw
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a hub message")
		return nil
	}
}

func TestHubBroadcastsFilteredSnapshots(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	citizen := newHubClient(hub, "user-1", false)
	admin := newHubClient(hub, "admin-1", true)
	hub.register <- citizen
	hub.register <- admin

	// Both get an initial (empty) delivery on register.
	decodeMessage(t, receive(t, citizen))
	decodeMessage(t, receive(t, admin))

	hub.BroadcastSnapshot(sampleSnapshot())

	citizenView := decodeMessage(t, receive(t, citizen))
	assert.Equal(t, 2, citizenView.Count)
	for _, c := range citizenView.Complaints {
		assert.Equal(t, "user-1", c.UserID)
	}

	adminView := decodeMessage(t, receive(t, admin))
	assert.Equal(t, 3, adminView.Count)
}

func TestHubRegisterDeliversCurrentState(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	hub.BroadcastSnapshot(sampleSnapshot())

	// A subscriber arriving after the broadcast still gets the state.
	late := newHubClient(hub, "user-2", false)
	hub.register <- late

	view := decodeMessage(t, receive(t, late))
	require.Equal(t, 1, view.Count)
	assert.Equal(t, "c-2", view.Complaints[0].ID)
}

func TestHubStopTerminatesRun(t *testing.T) {
	hub := NewWebSocketHub()

	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	client := newHubClient(hub, "user-1", false)
	hub.register <- client
	receive(t, client)

	hub.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, 0, hub.ConnectedClients())
}

func fingerprintRows(count, maxSeq int64, updated string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COUNT(*)", "MAX(seq)", "MAX(updated_at)"}).
		AddRow(count, maxSeq, updated)
}

func TestCheckOnceSkipsUnchangedTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewWebSocketService(database.NewComplaintService(db), time.Minute)
	svc.lastFingerprint = "3:7:2026-01-01 00:00:00"

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), MAX\\(seq\\), MAX\\(updated_at\\) FROM complaints").
		WillReturnRows(fingerprintRows(3, 7, "2026-01-01 00:00:00"))

	require.NoError(t, svc.checkOnce(context.Background()))

	// ListAll was never queried.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckOnceBroadcastsOnChange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewWebSocketService(database.NewComplaintService(db), time.Minute)
	svc.lastFingerprint = "2:5:2026-01-01 00:00:00"
	go svc.hub.Run()
	defer svc.hub.Stop()

	client := newHubClient(svc.hub, "admin-1", true)
	svc.hub.register <- client
	receive(t, client) // initial delivery

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), MAX\\(seq\\), MAX\\(updated_at\\) FROM complaints").
		WillReturnRows(fingerprintRows(3, 8, "2026-01-02 00:00:00"))
	mock.ExpectQuery("SELECT (.+) FROM complaints\\s+ORDER BY timestamp DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "user_phone", "title", "description", "address", "status", "timestamp"}).
			AddRow("c-1", "user-1", "+911111111111", "Garbage", "", "Elm St", models.StatusPending, int64(3000)))

	require.NoError(t, svc.checkOnce(context.Background()))

	view := decodeMessage(t, receive(t, client))
	assert.Equal(t, 1, view.Count)
	assert.Equal(t, "3:8:2026-01-02 00:00:00", svc.lastFingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}
