package persist

import "sync"

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a user-facing message about a store write.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Alerts collects notices until they are drained, typically into the next
// response sent to the user.
type Alerts struct {
	mu      sync.Mutex
	pending []Notice
}

// Notify queues a notice.
func (a *Alerts) Notify(n Notice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, n)
}

// Drain returns and clears the queued notices.
func (a *Alerts) Drain() []Notice {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}
