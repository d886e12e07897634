package adcp

import "strings"

// FormatID identifies a creative format by the agent that defines it plus the
// format's id within that agent.
type FormatID struct {
	AgentURL string `json:"agent_url"`
	ID       string `json:"id"`
}

// Normalize returns a copy with the agent URL right-trimmed of trailing
// slashes. Comparison of format ids must always go through Normalize so
// "https://h/" and "https://h" refer to the same agent.
func (f FormatID) Normalize() FormatID {
	return FormatID{AgentURL: strings.TrimRight(f.AgentURL, "/"), ID: f.ID}
}

// Equal reports whether two format ids refer to the same format after
// normalization.
func (f FormatID) Equal(other FormatID) bool {
	return f.Normalize() == other.Normalize()
}

// String renders the format id as agent_url#id for logs and cache keys.
func (f FormatID) String() string {
	n := f.Normalize()
	return n.AgentURL + "#" + n.ID
}
