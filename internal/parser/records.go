package parser

import (
	"sort"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	severityFields    = []string{"severity", "level", "priority", "risk", "loglevel", "log_level"}
	eventTypeFields   = []string{"event_type", "eventtype", "type", "category", "action"}
	descriptionFields = []string{"message", "msg", "description", "details", "event", "summary"}
)

// lookupField returns the first non-empty value among names, matching keys case-insensitively.
func lookupField(attrs map[string]string, names []string) (string, bool) {
	for _, name := range names {
		for k, v := range attrs {
			if strings.EqualFold(strings.TrimSpace(k), name) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

// recordText joins the values of attrs in key order so that keyword and IOC detection
// see every field regardless of map iteration order.
func recordText(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(attrs[k]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// recordEvent turns one structured record into an event. ok is false when the record is
// neither keyword-bearing nor carries an explicit severity of Medium or above.
func (b base) recordEvent(attrs map[string]string) (model.SecurityEvent, bool) {
	text := recordText(attrs)

	sev, explicit := model.Severity(""), false
	if v, ok := lookupField(attrs, severityFields); ok {
		sev, explicit = SeverityFromField(v)
	}
	relevant := IsSecurityRelevant(text) || (explicit && sev.Priority() >= model.SeverityMedium.Priority())
	if !relevant {
		return model.SecurityEvent{}, false
	}
	if !explicit {
		sev = SeverityFromText(text)
	}

	eventType, ok := lookupField(attrs, eventTypeFields)
	if !ok {
		eventType = ClassifyEventType(text)
	}
	desc, ok := lookupField(attrs, descriptionFields)
	if !ok {
		desc = text
	}

	ts, ok := TimestampFromFields(attrs, b.now())
	if !ok {
		ts = b.timestamp(text)
	}
	return b.event(ts, eventType, desc, sev, attrs), true
}
