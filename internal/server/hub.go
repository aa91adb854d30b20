package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast drops the message for subscribers whose buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastRunStarted(runID, baseFilename string) {
	h.broadcastEvent(RunStartedEvent{
		Event:        newEvent("run_started", time.Now().UTC()),
		RunID:        runID,
		BaseFilename: baseFilename,
	})
}

func (h *Hub) BroadcastRunCompleted(runID string, utterances, speakers int, warnings []string) {
	if warnings == nil {
		warnings = []string{}
	}
	h.broadcastEvent(RunCompletedEvent{
		Event:          newEvent("run_completed", time.Now().UTC()),
		RunID:          runID,
		UtteranceCount: utterances,
		SpeakerCount:   speakers,
		Warnings:       warnings,
	})
}

func (h *Hub) BroadcastRunFailed(runID, reason string) {
	h.broadcastEvent(RunFailedEvent{
		Event: newEvent("run_failed", time.Now().UTC()),
		RunID: runID,
		Error: reason,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
