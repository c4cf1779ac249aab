package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/stridehq/stride/internal/store"
	stridesync "github.com/stridehq/stride/internal/sync"
)

// Handler bridges store events and sync results into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnRecordEvent handles committed store changes. Wire it up with
// store.Subscribe.
func (h *Handler) OnRecordEvent(ev store.Event) {
	// User records never leave the local process.
	if ev.Kind == "user" {
		return
	}

	data := RecordUpdateData{
		Kind:    ev.Kind,
		Action:  string(ev.Action),
		LocalID: ev.LocalID,
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal record data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeRecordUpdate,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnSyncCycle handles sync cycle completion. Wire it up as the engine's
// OnCycle callback.
func (h *Handler) OnSyncCycle(res stridesync.CycleResult) {
	data := SyncCycleData{
		Pushed:   res.Pushed,
		Pulled:   res.Pulled,
		Failed:   res.Failed,
		Duration: res.Duration,
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncCycle,
		Timestamp: res.Start,
		Data:      dataJSON,
	})
}

// BroadcastProgress publishes the day's completion tally.
func (h *Handler) BroadcastProgress(date string, done, pending, points int) {
	data := ProgressData{Date: date, Done: done, Pending: pending, Points: points}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal progress data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeProgress,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
