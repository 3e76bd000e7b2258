package normalize

import (
	"reflect"
	"testing"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

func sampleEvents() []model.SecurityEvent {
	est := time.FixedZone("EST", -5*3600)
	return []model.SecurityEvent{
		{
			Timestamp:  time.Date(2024, 3, 10, 4, 15, 0, 0, est),
			EventType:  "authentication_failure",
			Severity:   model.SeverityMedium,
			Source:     "  syslog ",
			Attributes: map[string]string{"SRC": "203.0.113.5", " User ": "root"},
		},
		{
			Timestamp:  time.Date(2024, 3, 10, 9, 16, 0, 0, time.UTC),
			Severity:   model.SeverityCritical,
			Priority:   1,
			Source:     "Web Access Log",
			Attributes: map[string]string{"ip": "198.51.100.1", "source_ip": "192.0.2.9"},
		},
		{
			Timestamp: time.Date(2024, 3, 10, 9, 17, 0, 0, time.UTC),
			Source:    "text",
		},
	}
}

func TestEventsNormalizes(t *testing.T) {
	got := Collect(Events(sampleEvents()))
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Timestamp.Location() != time.UTC {
			t.Errorf("timestamp %v not in UTC", ev.Timestamp)
		}
	}
	first := got[0]
	if !first.Timestamp.Equal(time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)) {
		t.Errorf("zoned timestamp not converted: %v", first.Timestamp)
	}
	if first.Source != "SYSLOG" {
		t.Errorf("Source = %q", first.Source)
	}
	want := map[string]string{"ip": "203.0.113.5", "user": "root"}
	if !reflect.DeepEqual(first.Attributes, want) {
		t.Errorf("Attributes = %v, want %v", first.Attributes, want)
	}

	second := got[1]
	if second.Attributes["ip"] != "198.51.100.1" {
		t.Errorf("explicit ip should win over aliases: %v", second.Attributes)
	}
	if _, ok := second.Attributes["source_ip"]; ok {
		t.Error("alias key should be folded away")
	}
	if second.Priority != 4 {
		t.Errorf("Priority = %d, want 4", second.Priority)
	}
	if got[2].Severity != model.SeverityLow || got[2].Attributes != nil {
		t.Errorf("third event = %+v", got[2])
	}
}

func TestEventsIdempotent(t *testing.T) {
	once := Collect(Events(sampleEvents()))
	twice := Collect(Events(once))
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalize is not idempotent:\n%+v\n%+v", once, twice)
	}
}

func TestEventsRestartableAndPure(t *testing.T) {
	in := sampleEvents()
	seq := Events(in)
	a := Collect(seq)
	b := Collect(seq)
	if !reflect.DeepEqual(a, b) {
		t.Error("ranging twice gave different results")
	}
	if in[0].Source != "  syslog " || in[0].Attributes["SRC"] != "203.0.113.5" {
		t.Error("input was modified")
	}
}

func TestEventsEarlyStop(t *testing.T) {
	n := 0
	for range Events(sampleEvents()) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("iterated %d times", n)
	}
}

func TestSeqWrapsIterators(t *testing.T) {
	got := Collect(Seq(Events(sampleEvents())))
	if len(got) != 3 || got[0].Source != "SYSLOG" {
		t.Errorf("Seq = %+v", got)
	}
}
