package pipeline

import "fmt"

// Level is the severity of a user-facing notice
type Level int

const (
	// LevelInfo reports a normal outcome such as a detection count
	LevelInfo Level = iota
	// LevelError reports a failed run or command
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Notice is a short message surfaced to the user
type Notice struct {
	Level   Level
	Message string
	RunID   string
}

func (n Notice) String() string {
	return fmt.Sprintf("[%s] %s", n.Level, n.Message)
}

// Notifier receives user-facing notices
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(Notice)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notice) {
	f(n)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
