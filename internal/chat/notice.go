package chat

// NoticeLevel is the severity of a user-facing notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a toast-style notification raised by the sync adapter.
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Text      string      `json:"text"`
	SessionID string      `json:"sessionId"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

type noopNotifier struct{}

func (noopNotifier) Notify(Notice) {}
