// Package normalize rewrites parser output into the canonical event shape used by
// correlation, rule matching and the timeline.
package normalize

import (
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

// IPKey is the canonical attribute key for a source address.
const IPKey = "ip"

// ipAliases are folded into IPKey, tried in this (sorted) order when IPKey itself is empty.
var ipAliases = []string{"client_ip", "remote_addr", "source_ip", "src", "src_ip", "srcip"}

// Event returns the normalized form of ev. The input is not modified.
func Event(ev model.SecurityEvent) model.SecurityEvent {
	out := ev
	out.Timestamp = ev.Timestamp.UTC()
	out.Source = strings.ToUpper(strings.TrimSpace(ev.Source))
	if out.Severity == "" {
		out.Severity = model.SeverityLow
	}
	out.Priority = out.Severity.Priority()
	out.Attributes = normalizeAttributes(ev.Attributes)
	return out
}

func normalizeAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	// Sorted so that keys differing only in case resolve the same way every run.
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(in))
	for _, k := range keys {
		nk := strings.ToLower(strings.TrimSpace(k))
		if nk == "" {
			continue
		}
		if existing, ok := out[nk]; ok && existing != "" {
			continue
		}
		out[nk] = in[k]
	}

	if strings.TrimSpace(out[IPKey]) == "" {
		for _, alias := range ipAliases {
			if v := strings.TrimSpace(out[alias]); v != "" {
				out[IPKey] = v
				break
			}
		}
	}
	for _, alias := range ipAliases {
		delete(out, alias)
	}
	if v, ok := out[IPKey]; ok && strings.TrimSpace(v) == "" {
		delete(out, IPKey)
	}
	return out
}

// Events lazily normalizes in. The sequence holds no state and can be ranged over
// any number of times.
func Events(in []model.SecurityEvent) iter.Seq[model.SecurityEvent] {
	return func(yield func(model.SecurityEvent) bool) {
		for _, ev := range in {
			if !yield(Event(ev)) {
				return
			}
		}
	}
}

// Seq normalizes an arbitrary event sequence.
func Seq(in iter.Seq[model.SecurityEvent]) iter.Seq[model.SecurityEvent] {
	return func(yield func(model.SecurityEvent) bool) {
		for ev := range in {
			if !yield(Event(ev)) {
				return
			}
		}
	}
}

// Collect materializes a sequence.
func Collect(seq iter.Seq[model.SecurityEvent]) []model.SecurityEvent {
	return slices.Collect(seq)
}
