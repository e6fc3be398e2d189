package bus

// Event is the envelope published on events.* topics. Turn events carry the
// turn id both in the envelope and in Data; schedule events leave TurnID
// empty unless the trigger produced a turn.
type Event struct {
	Type      string         `json:"type"`
	TurnID    string         `json:"turn_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
