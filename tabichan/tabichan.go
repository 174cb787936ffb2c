// Package tabichan is a Go client for the Tabichan tourism API. It exposes a
// request/response Client for chat task submission, polling, and image
// retrieval, and a Session for interactive chat over WebSocket.
package tabichan

// Version is the current SDK version.
const Version = "0.3.0"

// Country selects which Tabichan destination catalog a request targets.
type Country string

// Supported destination catalogs.
const (
	CountryJapan  Country = "japan"
	CountryFrance Country = "france"
)

// Valid reports whether the country is one the API accepts.
func (c Country) Valid() bool {
	return c == CountryJapan || c == CountryFrance
}

// ChatMessage is a single conversation history entry.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
