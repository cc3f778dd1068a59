package conversation

// Clone returns a deep copy so store callers never share mutable state with
// the store's own record.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Entries = append([]LogEntry(nil), c.Entries...)
	out.Metadata = c.Metadata.clone()
	return &out
}

func (m Metadata) clone() Metadata {
	out := m
	out.PendingResults = make([]PendingResult, len(m.PendingResults))
	for i, pr := range m.PendingResults {
		out.PendingResults[i] = pr.clone()
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (p PendingResult) clone() PendingResult {
	out := p
	out.ToolIntents = append([]ToolIntent(nil), p.ToolIntents...)
	if p.Response != nil {
		resp := *p.Response
		resp.FailedActions = append([]string(nil), p.Response.FailedActions...)
		out.Response = &resp
	}
	return out
}
