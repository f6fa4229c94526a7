package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashureev/vryxia/internal/domain"
)

// EventChannel is a domain.EventSink that buffers events for the UI loop.
// When the buffer is full the event is dropped; the model re-reads the
// controller snapshot on every event so a dropped one only delays a redraw.
type EventChannel chan domain.Event

// NewEventChannel creates a channel sink with the given buffer.
func NewEventChannel(size int) EventChannel {
	if size <= 0 {
		size = 64
	}
	return make(EventChannel, size)
}

// Publish implements domain.EventSink.
func (c EventChannel) Publish(e domain.Event) {
	select {
	case c <- e:
	default:
	}
}

type eventMsg domain.Event

type eventsClosedMsg struct{}

// waitForEvent blocks on the next controller event.
func waitForEvent(ch <-chan domain.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

var _ domain.EventSink = EventChannel(nil)
