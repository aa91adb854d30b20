package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type RunStartedEvent struct {
	Event
	RunID        string `json:"run_id"`
	BaseFilename string `json:"base_filename"`
}

type RunCompletedEvent struct {
	Event
	RunID          string   `json:"run_id"`
	UtteranceCount int      `json:"utterance_count"`
	SpeakerCount   int      `json:"speaker_count"`
	Warnings       []string `json:"warnings"`
}

type RunFailedEvent struct {
	Event
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
