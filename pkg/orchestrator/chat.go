package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/castellan/castellan/pkg/agent"
	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/llms"
	"github.com/castellan/castellan/pkg/tools"
)

// chatAgentID is the decision-log shard and tool-invocation attribution for
// chat-originated actions.
const chatAgentID = "chat"

// ChatReply is the gateway's answer: the assistant text plus the results of
// any actions it ran on the user's behalf.
type ChatReply struct {
	Response string                  `json:"response"`
	Actions  []agent.ExecutionResult `json:"actions_executed,omitempty"`
}

// Chat answers a one-shot user message. The model sees the current home
// snapshot and the tool catalogue; any actions in its reply run through the
// same tool registry as agent actions, safety pipeline included.
func (o *Orchestrator) Chat(ctx context.Context, message string) (*ChatReply, error) {
	home, err := o.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("home snapshot failed: %w", err)
	}

	prompt := o.chatPrompt(home, message)
	provider := o.providers.Default()
	resp, err := provider.Chat(ctx, o.cfg.Model, []llms.Message{llms.UserMessage(prompt)}, &llms.ChatOptions{
		Temperature: 0.4,
		MaxTokens:   1000,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	reply := &ChatReply{}
	raw, err := llms.ExtractJSON(resp.Content)
	if err != nil {
		// Not JSON at all: treat the whole reply as the answer.
		reply.Response = strings.TrimSpace(resp.Content)
		return reply, nil
	}

	var payload struct {
		Response string `json:"response"`
	}
	_ = json.Unmarshal(raw, &payload)
	d := agent.ParseDecision(chatAgentID, string(raw))
	reply.Response = payload.Response
	if reply.Response == "" {
		reply.Response = d.Reasoning
	}

	for _, a := range d.Actions {
		res := o.tools.Execute(ctx, chatAgentID, a.Tool, tools.Args(a.Parameters))
		reply.Actions = append(reply.Actions, agent.ExecutionResult{
			Tool:       a.Tool,
			Parameters: a.Parameters,
			Result:     res,
		})
	}
	return reply, nil
}

func (o *Orchestrator) chatPrompt(home []bus.EntityState, message string) string {
	var b strings.Builder
	b.WriteString("You are the conversational front of a home-automation system. Answer the user and, when they ask for something actionable, include tool calls.\n\n")
	b.WriteString("# ENTITY STATES\n")
	for _, s := range home {
		fmt.Fprintf(&b, "- %s: %s\n", s.EntityID, s.State)
	}
	b.WriteString("\n# AVAILABLE TOOLS\n")
	if schemas, err := json.Marshal(o.tools.Schemas()); err == nil {
		b.Write(schemas)
		b.WriteString("\n")
	}
	b.WriteString("\n# USER MESSAGE\n")
	b.WriteString(message)
	b.WriteString("\n\nRespond with a JSON object: {\"response\": string, \"actions\": [{\"tool\": string, \"parameters\": object}]}. Use an empty actions array when the user only asked a question. Output standard JSON, no comments, no markdown.\n")
	return b.String()
}
