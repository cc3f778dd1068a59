package toolagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"glitchcube/internal/logging"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(Config{
		BaseURL: server.URL,
		AgentID: "conversation.assist",
	}, logging.Nop())
	return client, server
}

func envelopeJSON(responseType string, success, failed []agentTarget, speech string) []byte {
	env := map[string]any{
		"response": map[string]any{
			"response_type": responseType,
			"data": map[string]any{
				"success": success,
				"failed":  failed,
				"targets": append(append([]agentTarget{}, success...), failed...),
			},
			"speech": map[string]any{
				"plain": map[string]any{"speech": speech},
			},
		},
		"conversation_id": "agent-conv-1",
	}
	data, _ := json.Marshal(env)
	return data
}

func TestExecuteAllActionsSucceed(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req agentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "turn on the lights" {
			t.Errorf("text = %q", req.Text)
		}
		if req.AgentID != "conversation.assist" {
			t.Errorf("agent_id = %q", req.AgentID)
		}
		if req.ConversationID != nil {
			t.Errorf("conversation_id should be null on first call, got %v", *req.ConversationID)
		}
		_, _ = w.Write(envelopeJSON("action_done", []agentTarget{
			{ID: "light.kitchen", Name: "Kitchen Light"},
			{ID: "light.hall", Name: "Hall Light"},
		}, nil, "Done"))
	})
	defer server.Close()

	outcome := client.Execute(context.Background(), "turn on the lights")
	if !outcome.Success {
		t.Fatalf("outcome failed: %+v", outcome)
	}
	if outcome.Message != "Successfully completed 2 actions" {
		t.Errorf("message = %q", outcome.Message)
	}
	if outcome.ConversationID != "agent-conv-1" {
		t.Errorf("conversation_id = %q", outcome.ConversationID)
	}
}

func TestExecutePartialFailure(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(envelopeJSON("action_done",
			[]agentTarget{{ID: "light.kitchen", Name: "Kitchen Light"}},
			[]agentTarget{{ID: "light.porch", Name: "Porch Light"}},
			"Partially done"))
	})
	defer server.Close()

	outcome := client.Execute(context.Background(), "lights on")
	if !outcome.Success {
		t.Fatal("partial success should still count as success")
	}
	if outcome.Message != "Completed 1 actions, but 1 failed" {
		t.Errorf("message = %q", outcome.Message)
	}
	if len(outcome.FailedActions) != 1 || outcome.FailedActions[0] != "Porch Light" {
		t.Errorf("failed actions = %v", outcome.FailedActions)
	}
}

func TestExecuteAllActionsFail(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(envelopeJSON("action_done", nil,
			[]agentTarget{{ID: "light.porch"}}, ""))
	})
	defer server.Close()

	outcome := client.Execute(context.Background(), "lights on")
	if outcome.Success {
		t.Fatal("zero successes must be a failure")
	}
	if outcome.Error != "no actions were completed successfully" {
		t.Errorf("error = %q", outcome.Error)
	}
	if len(outcome.FailedActions) != 1 || outcome.FailedActions[0] != "light.porch" {
		t.Errorf("failed actions = %v", outcome.FailedActions)
	}
}

func TestExecuteAgentErrorResponse(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(envelopeJSON("error", nil, nil, "No device named blorp"))
	})
	defer server.Close()

	outcome := client.Execute(context.Background(), "activate blorp")
	if outcome.Success {
		t.Fatal("error response_type must be a failure")
	}
	if outcome.Error != "No device named blorp" {
		t.Errorf("error = %q", outcome.Error)
	}
}

func TestExecuteTransportFailureBecomesOutcome(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	server.Close() // force connection refused

	outcome := client.Execute(context.Background(), "anything")
	if outcome.Success {
		t.Fatal("transport failure must be a failure outcome")
	}
	if outcome.Error == "" {
		t.Error("transport failure should carry an error message")
	}
}

func TestExecuteNon200Status(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer server.Close()

	outcome := client.Execute(context.Background(), "anything")
	if outcome.Success {
		t.Fatal("502 must be a failure outcome")
	}
}

func TestExecuteMalformedJSON(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})
	defer server.Close()

	outcome := client.Execute(context.Background(), "anything")
	if outcome.Success {
		t.Fatal("malformed body must be a failure outcome")
	}
}

func TestExecuteInConversationSendsID(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var req agentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ConversationID == nil || *req.ConversationID != "agent-conv-7" {
			t.Errorf("conversation_id = %v, want agent-conv-7", req.ConversationID)
		}
		_, _ = w.Write(envelopeJSON("action_done", []agentTarget{{ID: "a"}}, nil, ""))
	})
	defer server.Close()

	outcome := client.ExecuteInConversation(context.Background(), "more", "agent-conv-7")
	if !outcome.Success {
		t.Fatalf("outcome: %+v", outcome)
	}
}
