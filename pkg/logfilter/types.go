package logfilter

// Event is a structured view of a service log line, as produced by a user
// script.
type Event struct {
	Timestamp  *string        `json:"timestamp,omitempty"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
	Source     string         `json:"source"`
	Raw        string         `json:"raw"`
	LineNumber int64          `json:"lineNumber"`
}

type Stats struct {
	LinesProcessed int64
	EventsEmitted  int64
	LinesDropped   int64
	HookErrors     int64
}
