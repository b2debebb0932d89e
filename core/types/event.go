package types

// Event is the flattened wire form of a ledger event: a type tag plus string
// attributes, suitable for JSON transport and the audit index.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or "" when absent.
func (e Event) Attribute(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
