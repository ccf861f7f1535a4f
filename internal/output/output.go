package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) ConversationStarted(id string) {
	fmt.Fprintf(f.w, "🆔 Conversation %s\n", id)
}

func (f *Formatter) Question(index int, text string) {
	fmt.Fprintf(f.w, "\n🎤 Question %d:\n%s\n\n", index, strings.TrimSpace(text))
}

func (f *Formatter) AudioReady() {
	fmt.Fprintf(f.w, "🔈 Answer audio ready. Type /play to listen.\n")
}

func (f *Formatter) Countdown(remaining int) {
	fmt.Fprintf(f.w, "⏳ Recording starts in %ds...\n", remaining)
}

func (f *Formatter) RecordingStarted() {
	fmt.Fprintf(f.w, "🔴 Recording. Press Enter to stop.\n")
}

func (f *Formatter) RecordingLeft(remaining int) {
	fmt.Fprintf(f.w, "⏺️  %s left\n", formatDuration(time.Duration(remaining)*time.Second))
}

func (f *Formatter) Uploading() {
	fmt.Fprintf(f.w, "⬆️  Uploading your answer...\n")
}

func (f *Formatter) InterviewComplete() {
	fmt.Fprintf(f.w, "\n🏁 Interview complete.\n")
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) ConversationListHeader() {
	fmt.Fprintf(f.w, "📁 Conversations:\n\n")
}

func (f *Formatter) ConversationListItem(id string, turns int, last time.Time) {
	fmt.Fprintf(f.w, "  %s  %d turns  %s\n", id, turns, last.Local().Format("2006-01-02 15:04"))
}

func (f *Formatter) TurnItem(index int, query, answer string, failed bool) {
	mark := ""
	if failed {
		mark = " ⚠️"
	}
	fmt.Fprintf(f.w, "  %d.%s > %s\n     %s\n", index, mark, oneLine(query), oneLine(answer))
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 100 {
		return string(r[:97]) + "..."
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
