package cli

import (
	"fmt"
	"sync"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/output"
)

// console renders notifications on the terminal.
type console struct {
	f *output.Formatter

	completed chan struct{}
	once      sync.Once

	mu          sync.Mutex
	lastMessage string
}

func newConsole(f *output.Formatter) *console {
	return &console{f: f, completed: make(chan struct{})}
}

func (c *console) Notify(n interview.Notification) {
	switch n.Kind {
	case interview.KindConversationStarted:
		c.f.ConversationStarted(n.ConversationID)
	case interview.KindTurnCompleted:
		if n.Turn == nil {
			return
		}
		c.mu.Lock()
		c.lastMessage = n.Turn.ID
		c.mu.Unlock()
		c.f.Question(n.QuestionIndex, n.Turn.Answer)
	case interview.KindAudioReady:
		c.f.AudioReady()
	case interview.KindCountdown:
		c.f.Countdown(n.Remaining)
	case interview.KindRecordingStatusChange:
		switch n.State {
		case capture.StateRecording.String():
			c.f.RecordingStarted()
		case capture.StateStopped.String():
			c.f.Uploading()
		}
	case interview.KindRecordingTick:
		if n.Remaining%30 == 0 {
			c.f.RecordingLeft(n.Remaining)
		}
	case interview.KindRecordingWarning:
		c.f.Warning(fmt.Sprintf("Only %ds of recording left.", n.Remaining))
	case interview.KindRecordingError, interview.KindDeviceError:
		c.f.Error(errorMessage(n))
		c.f.Info("Type /retry to try again.")
	case interview.KindError:
		c.f.Error(errorMessage(n))
	case interview.KindInterviewComplete:
		c.f.InterviewComplete()
		c.once.Do(func() { close(c.completed) })
	}
}

// last returns the id of the most recent answer.
func (c *console) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessage
}

func errorMessage(n interview.Notification) string {
	if n.Error != nil {
		return n.Error.Message
	}
	if n.Text != "" {
		return n.Text
	}
	return string(n.Kind)
}
