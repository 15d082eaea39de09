package realtime

import (
	"time"

	"mercator-hq/exporter/pkg/export"
)

// MessageType identifies a message on the progress channel.
type MessageType string

// Client to server.
const (
	TypeIdentify    MessageType = "identify"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"
)

// Server to client.
const (
	TypeIdentified   MessageType = "identified"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypeProgress     MessageType = "export_progress"
	TypeError        MessageType = "error"
	TypePong         MessageType = "pong"
)

// Inbound is a message received from a client.
type Inbound struct {
	Type     MessageType `json:"type"`
	ExportID string      `json:"exportId,omitempty"`
}

// Outbound is a message sent to a client. Only the fields relevant to Type
// are set.
type Outbound struct {
	Type      MessageType      `json:"type"`
	ExportID  string           `json:"exportId,omitempty"`
	UserID    string           `json:"userId,omitempty"`
	Progress  *ProgressPayload `json:"progress,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ProgressPayload is the body of an export_progress message.
type ProgressPayload struct {
	Status   export.Status `json:"status"`
	Progress int           `json:"progress"`
	Message  string        `json:"message"`
}

func progressMessage(jobID string, s export.Snapshot) *Outbound {
	return &Outbound{
		Type:     TypeProgress,
		ExportID: jobID,
		Progress: &ProgressPayload{
			Status:   s.Status,
			Progress: s.Progress,
			Message:  s.Message,
		},
		Timestamp: s.Timestamp,
	}
}

func errorMessage(exportID, message string) *Outbound {
	return &Outbound{
		Type:      TypeError,
		ExportID:  exportID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
