package toolagent

import "fmt"

// Outcome is the normalized result of one delegated action request. It is
// always a value, never an error: transport and protocol failures are folded
// into Success=false so the async dispatch path has a single shape to record.
type Outcome struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	FailedActions  []string `json:"failed_actions,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

const defaultErrorMessage = "Automation agent returned an error"

// classify maps a decoded agent envelope onto an Outcome per the action-count
// rules: any success with zero failures is a clean success, mixed results are
// a partial success, zero successes are a failure.
func classify(env *agentEnvelope) Outcome {
	if env.Response.ResponseType == responseTypeError {
		message := env.Response.Speech.Plain.Speech
		if message == "" {
			message = defaultErrorMessage
		}
		return Outcome{
			Success:        false,
			Error:          message,
			ConversationID: env.ConversationID,
		}
	}

	successCount := len(env.Response.Data.Success)
	failedCount := len(env.Response.Data.Failed)

	switch {
	case successCount > 0 && failedCount == 0:
		return Outcome{
			Success:        true,
			Message:        fmt.Sprintf("Successfully completed %d actions", successCount),
			ConversationID: env.ConversationID,
		}
	case successCount > 0:
		return Outcome{
			Success:        true,
			Message:        fmt.Sprintf("Completed %d actions, but %d failed", successCount, failedCount),
			FailedActions:  env.Response.Data.failedNames(),
			ConversationID: env.ConversationID,
		}
	default:
		return Outcome{
			Success:        false,
			Error:          "no actions were completed successfully",
			FailedActions:  env.Response.Data.failedNames(),
			ConversationID: env.ConversationID,
		}
	}
}
