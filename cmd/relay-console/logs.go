package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"
)

// LogManager manages the log panel and message history. It doubles as a
// logrus hook so everything logged through the app logger lands in the panel.
type LogManager struct {
	textView *tview.TextView

	// messages stores recent log messages
	messages []LogMessage

	maxMessages int
	mu          sync.Mutex

	// onChange is called after a message is added, outside the lock
	onChange func()
}

// LogMessage represents a single log entry
type LogMessage struct {
	Time    time.Time
	Level   logrus.Level
	Message string
}

// NewLogManager creates a new log manager
func NewLogManager(maxMessages int) *LogManager {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxMessages)

	textView.SetBorder(true).SetTitle(" Logs ")

	return &LogManager{
		textView:    textView,
		messages:    make([]LogMessage, 0, maxMessages),
		maxMessages: maxMessages,
	}
}

// GetView returns the tview component
func (lm *LogManager) GetView() tview.Primitive {
	return lm.textView
}

// Levels implements logrus.Hook.
func (lm *LogManager) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (lm *LogManager) Fire(entry *logrus.Entry) error {
	msg := entry.Message
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k, v := range entry.Data {
			keys = append(keys, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(keys)
		msg += " " + strings.Join(keys, " ")
	}
	lm.add(LogMessage{Time: entry.Time, Level: entry.Level, Message: msg})
	return nil
}

func (lm *LogManager) add(m LogMessage) {
	lm.mu.Lock()
	lm.messages = append(lm.messages, m)
	if len(lm.messages) > lm.maxMessages {
		lm.messages = lm.messages[len(lm.messages)-lm.maxMessages:]
	}
	onChange := lm.onChange
	lm.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// Messages returns a copy of the retained messages.
func (lm *LogManager) Messages() []LogMessage {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make([]LogMessage, len(lm.messages))
	copy(out, lm.messages)
	return out
}

// Render rewrites the text view from the retained messages. It must run on
// the UI goroutine.
func (lm *LogManager) Render() {
	var b strings.Builder
	for _, m := range lm.Messages() {
		b.WriteString(formatLogLine(m))
		b.WriteString("\n")
	}
	lm.textView.SetText(b.String())
	lm.textView.ScrollToEnd()
}

func formatLogLine(m LogMessage) string {
	color := "white"
	switch m.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		color = "red"
	case logrus.WarnLevel:
		color = "yellow"
	case logrus.DebugLevel, logrus.TraceLevel:
		color = "gray"
	}
	return fmt.Sprintf("[gray]%s[-] [%s]%-5s[-] %s",
		m.Time.Format("15:04:05"), color, strings.ToUpper(m.Level.String()), tview.Escape(m.Message))
}
