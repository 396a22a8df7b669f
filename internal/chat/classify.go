package chat

import "github.com/zulandar/murmur/internal/transport"

// Class is the routing decision for an inbound transport event.
type Class int

const (
	Ignore Class = iota
	OwnTranscription
	RemoteTranscription
)

func (c Class) String() string {
	switch c {
	case OwnTranscription:
		return "own-transcription"
	case RemoteTranscription:
		return "remote"
	default:
		return "ignore"
	}
}

// Classify decides how an event is handled. Echoes of the local
// participant's own chat messages are ignored; anything another participant
// says is treated as agent output.
func Classify(ev transport.Event, localIdentity string) Class {
	if ev.Type != transport.EventMessage || ev.IsBlank() {
		return Ignore
	}
	if ev.Sender == localIdentity {
		if ev.Kind == transport.KindTranscription {
			return OwnTranscription
		}
		return Ignore
	}
	if ev.Kind == transport.KindTranscription || ev.Kind == transport.KindChat {
		return RemoteTranscription
	}
	return Ignore
}
