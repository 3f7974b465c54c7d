package model

import (
	"encoding/json"
	"errors"
)

// EventKind discriminates TrackInfoEvent.
type EventKind int

const (
	EventAdd EventKind = iota + 1
	EventRemove
	EventSfuSelected
)

// ErrUnknownEvent is returned when decoding a JSON object that is none of
// the known event shapes.
var ErrUnknownEvent = errors.New("unknown track event")

// TrackInfoEvent is one of Add(TrackInfo), Remove(ProducerID) or
// SfuSelected(SfuID). Use the constructors; the zero value is invalid.
//
// On the wire each kind is an object with a single key:
//
//	{"add": {...}}  {"remove": "producerId"}  {"sfuId": "sfuId"}
type TrackInfoEvent struct {
	Kind     EventKind
	Track    TrackInfo
	Producer ProducerID
	Sfu      SfuID
}

// AddEvent announces a new track.
func AddEvent(t TrackInfo) TrackInfoEvent {
	return TrackInfoEvent{Kind: EventAdd, Track: t}
}

// RemoveEvent announces that a producer stopped.
func RemoveEvent(id ProducerID) TrackInfoEvent {
	return TrackInfoEvent{Kind: EventRemove, Producer: id}
}

// SfuSelectedEvent tells a client which SFU to connect to.
func SfuSelectedEvent(id SfuID) TrackInfoEvent {
	return TrackInfoEvent{Kind: EventSfuSelected, Sfu: id}
}

// AddEvents wraps every track in an Add event.
func AddEvents(tracks []TrackInfo) []TrackInfoEvent {
	events := make([]TrackInfoEvent, 0, len(tracks))
	for _, t := range tracks {
		events = append(events, AddEvent(t))
	}
	return events
}

type wireEvent struct {
	Add    *TrackInfo  `json:"add,omitempty"`
	Remove *ProducerID `json:"remove,omitempty"`
	SfuID  *SfuID      `json:"sfuId,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e TrackInfoEvent) MarshalJSON() ([]byte, error) {
	var w wireEvent
	switch e.Kind {
	case EventAdd:
		t := e.Track
		w.Add = &t
	case EventRemove:
		id := e.Producer
		w.Remove = &id
	case EventSfuSelected:
		id := e.Sfu
		w.SfuID = &id
	default:
		return nil, ErrUnknownEvent
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *TrackInfoEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Add != nil:
		*e = AddEvent(*w.Add)
	case w.Remove != nil:
		*e = RemoveEvent(*w.Remove)
	case w.SfuID != nil:
		*e = SfuSelectedEvent(*w.SfuID)
	default:
		return ErrUnknownEvent
	}
	return nil
}
