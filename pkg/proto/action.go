package proto

import "strings"

// ActionPacket is a text payload split into its pipe-delimited tokens.
// Login packets put one key|value pair per line, so Get also understands
// the line-oriented form.
type ActionPacket struct {
	raw    string
	tokens []string
	fields map[string]string
}

// ParseAction tokenizes a text payload.
func ParseAction(text string) *ActionPacket {
	ap := &ActionPacket{
		raw:    text,
		tokens: strings.Split(text, "|"),
		fields: make(map[string]string),
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		key, val, ok := strings.Cut(line, "|")
		if !ok || key == "" {
			continue
		}
		// First occurrence wins.
		if _, seen := ap.fields[key]; !seen {
			ap.fields[key] = val
		}
	}
	return ap
}

// Raw returns the unparsed payload.
func (ap *ActionPacket) Raw() string { return ap.raw }

// Tokens returns the ordered sequence of tokens split on '|'.
func (ap *ActionPacket) Tokens() []string { return ap.tokens }

// Get returns the value of a key|value line.
func (ap *ActionPacket) Get(key string) (string, bool) {
	v, ok := ap.fields[key]
	return v, ok
}

// Value returns the value of key, or "" when absent.
func (ap *ActionPacket) Value(key string) string {
	return ap.fields[key]
}

// Action returns the value of the "action" key.
func (ap *ActionPacket) Action() string {
	return ap.fields["action"]
}
