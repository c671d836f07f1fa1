// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package homeapi

import (
	"strings"

	"github.com/tomtom215/clipherd/internal/models"
)

// descriptionKeywords maps the words Google uses in timeline descriptions
// to event types. Descriptions look like "Package detected · Person" or
// "Doorbell rang". Matching is substring-based on the lowercased text so
// both "Person seen" and "Familiar person" land on person.
var descriptionKeywords = map[string]models.EventType{
	"doorbell": models.EventDoorbell,
	"ring":     models.EventDoorbell,
	"chime":    models.EventDoorbell,
	"package":  models.EventPackage,
	"parcel":   models.EventPackage,
	"person":   models.EventPerson,
	"face":     models.EventPerson,
	"animal":   models.EventAnimal,
	"dog":      models.EventAnimal,
	"cat":      models.EventAnimal,
	"vehicle":  models.EventVehicle,
	"car":      models.EventVehicle,
	"motion":   models.EventMotion,
	"movement": models.EventMotion,
	"sound":    models.EventSound,
	"talking":  models.EventSound,
}

// ParseDescription extracts event types from a human-readable timeline
// description. Segments are split on the " · " separator and matched
// word-by-word against known keywords. Unrecognized segments fall back to
// motion so the event still correlates rather than vanishing.
func ParseDescription(description string) models.TypeSet {
	types := models.NewTypeSet()
	for _, segment := range strings.Split(description, "·") {
		segment = strings.ToLower(strings.TrimSpace(segment))
		if segment == "" {
			continue
		}
		matched := false
		for _, word := range strings.FieldsFunc(segment, func(r rune) bool {
			return !('a' <= r && r <= 'z')
		}) {
			if t, ok := descriptionKeywords[word]; ok {
				types.Add(t)
				matched = true
			}
		}
		if !matched {
			types.Add(models.EventMotion)
		}
	}
	return types
}
