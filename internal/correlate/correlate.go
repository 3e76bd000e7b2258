// Package correlate groups normalized events that share a source address or a time bucket.
package correlate

import (
	"sort"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
	"github.com/iyulab/log-coroner/internal/normalize"
)

// Key prefixes of the two grouping passes.
const (
	IPPrefix   = "IP:"
	TimePrefix = "TIME:"
)

// DefaultWindow is the temporal bucket size.
const DefaultWindow = time.Minute

// Correlator groups events. The zero value uses DefaultWindow.
type Correlator struct {
	// Window is the temporal bucket size.
	Window time.Duration
}

// Correlate runs both passes with the default window.
func Correlate(events []model.SecurityEvent) []model.CorrelatedGroup {
	return Correlator{}.Correlate(events)
}

// Correlate returns the union of the address and temporal groups with at least two
// members, sorted by key. Inside a group events keep their input order; an event may
// appear in more than one group.
func (c Correlator) Correlate(events []model.SecurityEvent) []model.CorrelatedGroup {
	window := c.Window
	if window <= 0 {
		window = DefaultWindow
	}

	byKey := make(map[string][]model.SecurityEvent)
	for _, ev := range events {
		if ip := ev.Attributes[normalize.IPKey]; ip != "" {
			k := IPPrefix + ip
			byKey[k] = append(byKey[k], ev)
		}
		bucket := ev.Timestamp.UTC().Truncate(window)
		k := TimePrefix + bucket.Format(time.RFC3339)
		byKey[k] = append(byKey[k], ev)
	}

	keys := make([]string, 0, len(byKey))
	for k, members := range byKey {
		if len(members) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	groups := make([]model.CorrelatedGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, model.CorrelatedGroup{Key: k, Events: byKey[k]})
	}
	return groups
}
