// Package notify provides the fire-and-forget notification collaborator.
// The engine sends at most a handful of messages per command and never lets
// a delivery failure roll back or block the state mutation that triggered
// it; failures are logged and dropped.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/transferdesk/transferdesk/pkg/contracts"
)

// Sink delivers one notification. Implementations must not retry; the caller
// treats any error as already handled.
type Sink interface {
	Send(ctx context.Context, n contracts.Notification) error
}

// LogSink writes notifications to structured logs. This is the default sink
// when no delivery channel is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger (slog.Default when nil).
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, n contracts.Notification) error {
	s.logger.Info("notification",
		"recipient", n.Recipient,
		"type", n.Type,
		"request_id", n.RequestID,
		"sender", n.Sender,
		"message", n.Message,
	)
	return nil
}

// MemorySink captures notifications for tests.
type MemorySink struct {
	mu   sync.Mutex
	sent []contracts.Notification
}

// NewMemorySink creates an empty capture sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Send(_ context.Context, n contracts.Notification) error {
	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of everything delivered so far.
func (s *MemorySink) Sent() []contracts.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// Reset clears the capture buffer.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}
