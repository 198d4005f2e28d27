// Package notify implements the advisory notification sender (6): a
// write-only, best-effort client for the local notification socket.
package notify

import (
	"encoding/json"
	"net"
	"time"

	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// DefaultSocketPath is this deployment's standard notification socket
// (the open question in 9(a) resolved in favor of the newer /run/ path).
const DefaultSocketPath = "/run/mos-notify.sock"

// MaxWait bounds how long a single notification attempt may block the
// caller (testable property 9).
const MaxWait = 1 * time.Second

// Priority is the urgency of a notification message.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityAlert  Priority = "alert"
)

// Message is the JSON payload written to the notification socket.
type Message struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority Priority `json:"priority"`
}

// Sender writes advisory messages to a local Unix domain socket. Every
// send is best-effort: a connect failure, write failure, or timeout is
// swallowed and logged, never surfaced as an error to the caller (7.
// "Notifications are best-effort and never turn into errors").
type Sender struct {
	SocketPath string
}

// New builds a Sender for the given socket path.
func New(socketPath string) *Sender {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Sender{SocketPath: socketPath}
}

// Send connects, writes one JSON message, and closes — swallowing any
// failure. It never blocks the caller for longer than MaxWait.
func (s *Sender) Send(msg Message) {
	deadline := time.Now().Add(MaxWait)
	conn, err := net.DialTimeout("unix", s.SocketPath, MaxWait)
	if err != nil {
		logger.Debug("notify: failed to connect to %s: %v", s.SocketPath, err)
		return
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		logger.Debug("notify: failed to set write deadline: %v", err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Debug("notify: failed to marshal message: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		logger.Debug("notify: failed to write to %s: %v", s.SocketPath, err)
	}
}

// Info sends a normal-priority notification.
func (s *Sender) Info(title, message string) {
	s.Send(Message{Title: title, Message: message, Priority: PriorityNormal})
}

// Alert sends an alert-priority notification.
func (s *Sender) Alert(title, message string) {
	s.Send(Message{Title: title, Message: message, Priority: PriorityAlert})
}
