package conversation

import "time"

// Status tracks the lifecycle of a conversation.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Entry roles. Persona entries feed the goal completion detector.
const (
	RoleUser    = "user"
	RolePersona = "persona"
)

// LogEntry is one transcript line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// ToolIntent is a structured device-control request produced by the narrative
// engine for one turn. This core consumes intents, it never produces them.
type ToolIntent struct {
	Tool   string `json:"tool"`
	Intent string `json:"intent"`
}

// ResultPayload is the normalized outcome of a delegated agent action.
type ResultPayload struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	FailedActions []string `json:"failed_actions,omitempty"`
}

// PendingResult buffers the outcome of an out-of-band tool dispatch until the
// next conversation turn consumes it. Entries are retained after consumption
// as an audit trail; Processed flips false to true exactly once.
type PendingResult struct {
	Timestamp   time.Time      `json:"timestamp"`
	UserMessage string         `json:"user_message"`
	ToolIntents []ToolIntent   `json:"tool_intents"`
	Response    *ResultPayload `json:"response,omitempty"`
	AgentType   string         `json:"agent_type"`
	Error       string         `json:"error,omitempty"`
	Processed   bool           `json:"processed"`
}

// MetadataVersion is the current schema version of the Metadata record.
const MetadataVersion = 1

// Metadata is the typed per-conversation metadata record. It replaces an
// untyped merge bag: pending results get an explicit field, and Merge is
// additive so collaborators writing Extra keys are never clobbered.
type Metadata struct {
	Version        int               `json:"version"`
	PendingResults []PendingResult   `json:"pending_results"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Merge applies delta additively: pending results are appended in order and
// Extra keys from delta are set individually. Keys absent from delta survive.
func (m *Metadata) Merge(delta Metadata) {
	if m.Version == 0 {
		m.Version = MetadataVersion
	}
	m.PendingResults = append(m.PendingResults, delta.PendingResults...)
	if len(delta.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]string, len(delta.Extra))
		}
		for k, v := range delta.Extra {
			m.Extra[k] = v
		}
	}
}

// Conversation is a bounded interaction session with the persona.
type Conversation struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Entries   []LogEntry `json:"entries"`
	Metadata  Metadata   `json:"metadata"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LastActivity returns the newest transcript timestamp. ok is false when the
// conversation has no entries yet; such conversations are never reaped.
func (c *Conversation) LastActivity() (last time.Time, ok bool) {
	for _, e := range c.Entries {
		if e.Timestamp.After(last) {
			last = e.Timestamp
			ok = true
		}
	}
	return last, ok
}

// RecentEntries returns up to limit entries with Timestamp >= cutoff, most
// recent first.
func (c *Conversation) RecentEntries(limit int, cutoff time.Time) []LogEntry {
	out := make([]LogEntry, 0, limit)
	for i := len(c.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := c.Entries[i]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}
