package model

// TechnicalFindings is the output of parsing one file (or the merge of several).
type TechnicalFindings struct {
	// RawData is parser-specific and opaque to downstream stages.
	RawData        map[string]any  `json:"raw_data" yaml:"raw_data"`
	SecurityEvents []SecurityEvent `json:"security_events" yaml:"security_events"`
	IOCs           []string        `json:"iocs" yaml:"iocs"`
	EventsByType   map[string]int  `json:"events_by_type" yaml:"events_by_type"`
	IOCsByCategory map[string]int  `json:"iocs_by_category" yaml:"iocs_by_category"`
	Metadata       FileMetadata    `json:"metadata" yaml:"metadata"`
	TotalLines     int             `json:"total_lines" yaml:"total_lines"`
	// Partial is set when the parser could only extract part of the content (binary containers).
	Partial    bool   `json:"partial,omitempty" yaml:"partial,omitempty"`
	ParserType string `json:"parser_type,omitempty" yaml:"parser_type,omitempty"`

	iocIndex map[string]struct{}
}

// NewFindings returns an empty, valid findings value.
func NewFindings(parserType string) *TechnicalFindings {
	return &TechnicalFindings{
		RawData:        make(map[string]any),
		SecurityEvents: []SecurityEvent{},
		IOCs:           []string{},
		EventsByType:   make(map[string]int),
		IOCsByCategory: make(map[string]int),
		ParserType:     parserType,
	}
}

// AddEvent appends an event and bumps its type counter.
func (f *TechnicalFindings) AddEvent(ev SecurityEvent) {
	if f.EventsByType == nil {
		f.EventsByType = make(map[string]int)
	}
	if ev.Priority == 0 {
		ev.Priority = ev.Severity.Priority()
	}
	f.SecurityEvents = append(f.SecurityEvents, ev)
	f.EventsByType[ev.EventType]++
}

// AddIOC records an indicator unless the same "type: value" pair is already present.
// Reports whether the indicator was new.
func (f *TechnicalFindings) AddIOC(ioc string) bool {
	if ioc == "" {
		return false
	}
	if f.iocIndex == nil {
		f.iocIndex = make(map[string]struct{}, len(f.IOCs))
		for _, existing := range f.IOCs {
			f.iocIndex[existing] = struct{}{}
		}
	}
	if _, ok := f.iocIndex[ioc]; ok {
		return false
	}
	f.iocIndex[ioc] = struct{}{}
	f.IOCs = append(f.IOCs, ioc)
	if f.IOCsByCategory == nil {
		f.IOCsByCategory = make(map[string]int)
	}
	f.IOCsByCategory[IOCCategory(ioc)]++
	return true
}

// AddIOCs records each indicator through AddIOC.
func (f *TechnicalFindings) AddIOCs(iocs []string) {
	for _, ioc := range iocs {
		f.AddIOC(ioc)
	}
}

// Merge combines two findings into a new value without modifying either operand.
// RawData keys are last-write-wins, events and IOCs concatenate (no cross-file dedup:
// provenance differs), counters sum. The operation is associative; counters are also commutative.
func Merge(a, b TechnicalFindings) TechnicalFindings {
	out := TechnicalFindings{
		RawData:        make(map[string]any, len(a.RawData)+len(b.RawData)),
		SecurityEvents: make([]SecurityEvent, 0, len(a.SecurityEvents)+len(b.SecurityEvents)),
		IOCs:           make([]string, 0, len(a.IOCs)+len(b.IOCs)),
		EventsByType:   sumCounts(a.EventsByType, b.EventsByType),
		IOCsByCategory: sumCounts(a.IOCsByCategory, b.IOCsByCategory),
		TotalLines:     a.TotalLines + b.TotalLines,
		Partial:        a.Partial || b.Partial,
	}
	for k, v := range a.RawData {
		out.RawData[k] = v
	}
	for k, v := range b.RawData {
		out.RawData[k] = v
	}
	for _, ev := range a.SecurityEvents {
		out.SecurityEvents = append(out.SecurityEvents, ev.Clone())
	}
	for _, ev := range b.SecurityEvents {
		out.SecurityEvents = append(out.SecurityEvents, ev.Clone())
	}
	out.IOCs = append(out.IOCs, a.IOCs...)
	out.IOCs = append(out.IOCs, b.IOCs...)

	out.Metadata = a.Metadata
	if out.Metadata.IsZero() {
		out.Metadata = b.Metadata
	}
	out.ParserType = a.ParserType
	if out.ParserType == "" {
		out.ParserType = b.ParserType
	} else if b.ParserType != "" && b.ParserType != a.ParserType {
		out.ParserType = "Mixed"
	}
	return out
}

// MergeAll folds Merge over the list from left to right. An empty list yields empty findings.
func MergeAll(list []TechnicalFindings) TechnicalFindings {
	acc := *NewFindings("")
	for _, f := range list {
		acc = Merge(acc, f)
	}
	return acc
}

func sumCounts(a, b map[string]int) map[string]int {
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}
