// Package toolagent calls the external automation agent that executes
// device-control actions, and normalizes its per-entity results.
package toolagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	gcerrors "glitchcube/internal/errors"
	"glitchcube/internal/logging"
)

const responseTypeError = "error"

var tracer = otel.Tracer("glitchcube/toolagent")

// Config holds the automation agent connection settings.
type Config struct {
	BaseURL string // e.g. http://homeassistant.local:8123
	AgentID string // conversation agent entity to address
	Token   string // optional bearer token
	Timeout time.Duration
}

// Client talks to the automation agent's conversation endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a tool agent client.
func NewClient(config Config, logger logging.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logging.OrNop(logger),
	}
}

type agentRequest struct {
	Text           string  `json:"text"`
	AgentID        string  `json:"agent_id"`
	ConversationID *string `json:"conversation_id"`
}

type agentEnvelope struct {
	Response struct {
		ResponseType string    `json:"response_type"`
		Data         agentData `json:"data"`
		Speech       struct {
			Plain struct {
				Speech string `json:"speech"`
			} `json:"plain"`
		} `json:"speech"`
	} `json:"response"`
	ConversationID string `json:"conversation_id"`
}

type agentData struct {
	Success []agentTarget `json:"success"`
	Failed  []agentTarget `json:"failed"`
	Targets []agentTarget `json:"targets"`
}

type agentTarget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func (d agentData) failedNames() []string {
	if len(d.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(d.Failed))
	for _, t := range d.Failed {
		switch {
		case t.Name != "":
			names = append(names, t.Name)
		case t.ID != "":
			names = append(names, t.ID)
		default:
			names = append(names, "unknown target")
		}
	}
	return names
}

// Execute sends requestText to the automation agent and classifies the reply.
// It never returns a Go error to its caller: every failure mode, transport
// included, becomes a failure Outcome so the dispatch boundary has nothing to
// catch.
func (c *Client) Execute(ctx context.Context, requestText string) Outcome {
	return c.ExecuteInConversation(ctx, requestText, "")
}

// ExecuteInConversation is Execute with an explicit agent-side conversation
// id, used to continue a multi-turn exchange with the agent.
func (c *Client) ExecuteInConversation(ctx context.Context, requestText, agentConversationID string) Outcome {
	ctx, span := tracer.Start(ctx, "toolagent.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int("request.length", len(requestText)))

	env, err := c.call(ctx, requestText, agentConversationID)
	if err != nil {
		if gcerrors.IsTransient(err) {
			c.logger.Warn("Automation agent call failed (transient): %v", err)
		} else {
			c.logger.Error("Automation agent call failed: %v", err)
		}
		return Outcome{
			Success: false,
			Error:   fmt.Sprintf("automation agent unavailable: %v", err),
		}
	}

	outcome := classify(env)
	if !outcome.Success {
		c.logger.Info("Automation agent reported failure: %s", outcome.Error)
	}
	return outcome
}

func (c *Client) call(ctx context.Context, requestText, agentConversationID string) (*agentEnvelope, error) {
	payload := agentRequest{
		Text:    requestText,
		AgentID: c.config.AgentID,
	}
	if agentConversationID != "" {
		payload.ConversationID = &agentConversationID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gcerrors.NewPermanentError(err, "encode agent request")
	}

	url := c.config.BaseURL + "/api/conversation/process"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gcerrors.NewPermanentError(err, "build agent request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("agent returned status %d", resp.StatusCode)
		if gcerrors.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, gcerrors.NewTransientError(err, "")
		}
		return nil, gcerrors.NewPermanentError(err, "")
	}

	var env agentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, gcerrors.NewPermanentError(err, "malformed agent response")
	}
	return &env, nil
}
