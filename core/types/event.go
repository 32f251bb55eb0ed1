package types

// Event is a structured record of a state change, consumed by RPC subscribers
// and off-chain indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
