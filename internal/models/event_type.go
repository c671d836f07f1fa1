// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package models

import (
	"sort"
	"strings"
)

// EventType classifies what a camera saw or heard. The metadata feed labels
// events with one or more of these; the clip feed carries none.
type EventType string

// Known event types, in priority order (doorbell highest, sound lowest).
const (
	EventDoorbell EventType = "doorbell"
	EventPackage  EventType = "package"
	EventPerson   EventType = "person"
	EventAnimal   EventType = "animal"
	EventVehicle  EventType = "vehicle"
	EventMotion   EventType = "motion"
	EventSound    EventType = "sound"
)

// typeRank fixes the display priority of each event type. Lower rank renders
// first. The rank is used only for caption ordering, never for matching or
// deduplication.
var typeRank = map[EventType]int{
	EventDoorbell: 0,
	EventPackage:  1,
	EventPerson:   2,
	EventAnimal:   3,
	EventVehicle:  4,
	EventMotion:   5,
	EventSound:    6,
}

// typeEmoji maps each event type to the emoji used in rendered captions.
var typeEmoji = map[EventType]string{
	EventDoorbell: "\U0001F514", // bell
	EventPackage:  "\U0001F4E6", // package
	EventPerson:   "\U0001F9CD", // person standing
	EventAnimal:   "\U0001F43E", // paw prints
	EventVehicle:  "\U0001F697", // automobile
	EventMotion:   "\U0001F3C3", // runner
	EventSound:    "\U0001F50A", // speaker
}

// Rank returns the display priority of t. Unknown types sort last.
func (t EventType) Rank() int {
	if r, ok := typeRank[t]; ok {
		return r
	}
	return len(typeRank)
}

// Emoji returns the caption emoji for t, or empty string for unknown types.
func (t EventType) Emoji() string {
	return typeEmoji[t]
}

// Known reports whether t is one of the enumerated event types.
func (t EventType) Known() bool {
	_, ok := typeRank[t]
	return ok
}

// Label returns a human-readable form, e.g. "Person".
func (t EventType) Label() string {
	s := string(t)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseEventType maps an upstream event key to an EventType. The metadata
// feed uses fully qualified keys like "sdm.devices.events.CameraPerson.Person";
// only the final segment matters.
func ParseEventType(key string) (EventType, bool) {
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	t := EventType(strings.ToLower(key))
	// Upstream names a few types differently from our canonical form.
	switch t {
	case "chime":
		t = EventDoorbell
	case "doorbellchime":
		t = EventDoorbell
	}
	return t, t.Known()
}

// TypeSet is an unordered set of event types.
type TypeSet map[EventType]struct{}

// NewTypeSet builds a set from the given types.
func NewTypeSet(types ...EventType) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Add inserts t into the set.
func (s TypeSet) Add(t EventType) {
	s[t] = struct{}{}
}

// Contains reports whether t is in the set.
func (s TypeSet) Contains(t EventType) bool {
	_, ok := s[t]
	return ok
}

// Union merges other into s.
func (s TypeSet) Union(other TypeSet) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// Len returns the number of types in the set.
func (s TypeSet) Len() int {
	return len(s)
}

// Clone returns a copy of the set.
func (s TypeSet) Clone() TypeSet {
	c := make(TypeSet, len(s))
	for t := range s {
		c[t] = struct{}{}
	}
	return c
}

// Ordered returns the set's types sorted by display priority, doorbell first.
// Equal ranks (unknown types) fall back to lexical order for determinism.
func (s TypeSet) Ordered() []EventType {
	out := make([]EventType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rank(), out[j].Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}
