package call

import "github.com/sirupsen/logrus"

// User-visible notices.
const (
	NoticeCalling     = "Calling..."
	NoticeReady       = "Ready to answer"
	NoticeEnded       = "Call ended"
	NoticeNoCapture   = "Could not access camera or microphone"
	NoticeStartFailed = "Failed to start call"
	NoticeNegotiation = "Connection setup failed, waiting for a new offer"
)

// Notice is a message for the person using the session.
type Notice struct {
	Level   logrus.Level
	Message string
	Err     error
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(Notice)
}

// LogNotifier writes notices to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	entry.Log(n.Level, n.Message)
}
