// Package presentation maps conversation events to the sounds and status
// visuals a client plays for them.
package presentation

import (
	"github.com/ashureev/vryxia/internal/domain"
)

// Status visuals shown above the character.
const (
	VisualQuestionMark = "question_mark"
	VisualLightBulb    = "light_bulb"
)

// LightBulbHideDelayMs keeps the bulb on screen briefly after the
// recently-replied flag clears.
const LightBulbHideDelayMs = 500

// Sound is one audio cue.
type Sound struct {
	Src    string  `json:"src"`
	Volume float64 `json:"volume"`
}

// Catalog lists the audio cue for each lifecycle moment.
type Catalog struct {
	Enter   Sound `json:"enter"`
	Send    Sound `json:"send"`
	Receive Sound `json:"receive"`
	Exit    Sound `json:"exit"`
}

// DefaultCatalog returns the stock sound set.
func DefaultCatalog() Catalog {
	return Catalog{
		Enter:   Sound{Src: "/ui-open.mp3", Volume: 0.5},
		Send:    Sound{Src: "/send-message.mp3", Volume: 0.6},
		Receive: Sound{Src: "/receive-message.mp3", Volume: 0.4},
		Exit:    Sound{Src: "/ui-close.mp3", Volume: 0.5},
	}
}

// CueFor returns the cue for e, or nil if the event has no presentation.
func (c Catalog) CueFor(e domain.Event) *domain.Cue {
	switch e.Kind {
	case domain.EventChatModeEntered:
		return soundCue(c.Enter)
	case domain.EventChatModeExited:
		return soundCue(c.Exit)
	case domain.EventMessageSent:
		return soundCue(c.Send)
	case domain.EventMessageReceived:
		return soundCue(c.Receive)
	case domain.EventPendingChanged:
		return &domain.Cue{Visual: VisualQuestionMark, Visible: e.Active}
	case domain.EventRepliedChanged:
		cue := &domain.Cue{Visual: VisualLightBulb, Visible: e.Active}
		if !e.Active {
			cue.HideDelayMs = LightBulbHideDelayMs
		}
		return cue
	default:
		return nil
	}
}

func soundCue(s Sound) *domain.Cue {
	return &domain.Cue{Sound: s.Src, Volume: s.Volume}
}

// CueSink decorates an EventSink, attaching the cue for each event before
// forwarding it.
type CueSink struct {
	catalog Catalog
	next    domain.EventSink
}

// NewCueSink wraps next.
func NewCueSink(catalog Catalog, next domain.EventSink) *CueSink {
	return &CueSink{catalog: catalog, next: next}
}

// Publish implements domain.EventSink.
func (s *CueSink) Publish(e domain.Event) {
	if e.Cue == nil {
		e.Cue = s.catalog.CueFor(e)
	}
	s.next.Publish(e)
}
