// Package notify carries shopper-facing notices out of the storefront core
// without the core knowing how they are displayed.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Level classifies a notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Sink receives notices produced by catalog, cart and checkout operations
type Sink interface {
	Notify(level Level, message string)
}

// Notice is a single recorded notification
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Nop discards every notice
type Nop struct{}

func (Nop) Notify(Level, string) {}

// Buffer collects notices until drained
type Buffer struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records a notice
func (b *Buffer) Notify(level Level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Level: level, Message: message})
}

// Drain returns the collected notices and empties the buffer
func (b *Buffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// LogSink writes notices to a zap logger and forwards them to Next
type LogSink struct {
	Logger *zap.Logger
	Next   Sink
}

// Notify logs the notice at the matching level
func (s LogSink) Notify(level Level, message string) {
	if s.Logger != nil {
		switch level {
		case LevelError:
			s.Logger.Error("Shopper notice", zap.String("message", message))
		case LevelWarning:
			s.Logger.Warn("Shopper notice", zap.String("message", message))
		default:
			s.Logger.Debug("Shopper notice",
				zap.String("level", string(level)),
				zap.String("message", message))
		}
	}
	if s.Next != nil {
		s.Next.Notify(level, message)
	}
}

// OrNop returns s, or Nop when s is nil
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
