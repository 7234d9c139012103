package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Task events
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskProgress  EventType = "task.progress"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskCancelled EventType = "task.cancelled"

	// System events
	EventQueueDepth EventType = "queue.depth"
)

// AllEventTypes lists every event type the broker can carry
var AllEventTypes = []EventType{
	EventTaskSubmitted,
	EventTaskStarted,
	EventTaskProgress,
	EventTaskCompleted,
	EventTaskFailed,
	EventTaskRetrying,
	EventTaskCancelled,
	EventQueueDepth,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// TaskEventData creates event data for task events
func TaskEventData(taskID string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"task_id": taskID,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// QueueDepthData creates event data for queue depth events
func QueueDepthData(depths map[string]int) map[string]interface{} {
	data := make(map[string]interface{}, len(depths))
	for status, count := range depths {
		data[status] = count
	}
	return data
}
