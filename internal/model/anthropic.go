package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pilotdev/pilot/internal/session"
)

const defaultMaxTokens = 8192

// Anthropic implements Client against the Anthropic Messages API.
type Anthropic struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropic creates the provider client. An empty API key falls back to
// the SDK's environment handling.
func NewAnthropic(apiKey, model string) *Anthropic {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Complete sends the conversation snapshot and parses the reply into text
// and tool requests.
func (c *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Turns),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, schema := range req.Tools {
		params.Tools = append(params.Tools, toolParam(schema.Name, schema.Description, schema.Input))
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic API call: %w", err)
	}

	return parseMessage(msg)
}

// Summarize condenses a transcript rendering into a compact summary. Used
// by the context compactor.
func (c *Anthropic) Summarize(ctx context.Context, transcript string) (string, error) {
	system := `You summarize an agent work session so it can continue with reduced context. Produce a compact summary covering:
- the user's overall goal and stated requirements
- major actions taken, in order
- files read, created, or modified, with what changed
- key decisions and their rationale
- errors encountered and how they were resolved
- what remains to be done

Be specific with file paths, function names, and error messages. Return plain text only.`

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Summarize this session transcript:\n\n" + transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text content in summary response", ErrMalformed)
	}
	return strings.TrimSpace(sb.String()), nil
}

func toolParam(name, description string, schema map[string]any) anthropic.ToolUnionParam {
	input := anthropic.ToolInputSchemaParam{}
	if schema != nil {
		if props, ok := schema["properties"]; ok {
			input.Properties = props
		}
		if req, ok := schema["required"].([]string); ok {
			input.Required = req
		}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: input,
		},
	}
}

// buildMessages converts transcript turns to API messages. Consecutive
// observation turns collapse into a single user message so every
// tool_result block directly follows the assistant turn that requested it.
func buildMessages(turns []session.Turn) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, turn := range turns {
		switch turn.Kind {
		case session.TurnUser:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case session.TurnNotice:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("[session notice] "+turn.Content)))
		case session.TurnAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, req := range turn.Requests {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    req.ID,
						Name:  req.Tool,
						Input: req.Args,
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case session.TurnObservation:
			if turn.Result == nil {
				continue
			}
			pendingResults = append(pendingResults, toolResultBlock(*turn.Result))
		}
	}
	flushResults()
	return out
}

func toolResultBlock(result session.ToolResult) anthropic.ContentBlockParamUnion {
	content := result.Content
	isError := false
	if result.Failure != nil {
		content = result.Failure.Error()
		isError = true
	}
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: result.RequestID,
			IsError:   anthropic.Bool(isError),
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: content}},
			},
		},
	}
}

func parseMessage(msg *anthropic.Message) (Response, error) {
	var resp Response
	var text strings.Builder

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return Response{}, fmt.Errorf("%w: tool_use input for %s: %v", ErrMalformed, block.Name, err)
				}
			}
			if block.ID == "" || block.Name == "" {
				return Response{}, fmt.Errorf("%w: tool_use block missing id or name", ErrMalformed)
			}
			resp.Requests = append(resp.Requests, session.ToolRequest{
				ID:   block.ID,
				Tool: block.Name,
				Args: args,
			})
		}
	}

	resp.Text = strings.TrimSpace(text.String())
	if msg.StopReason == anthropic.StopReasonToolUse && len(resp.Requests) == 0 {
		return Response{}, fmt.Errorf("%w: stop reason tool_use with no tool_use blocks", ErrMalformed)
	}
	if resp.Text == "" && len(resp.Requests) == 0 {
		return Response{}, fmt.Errorf("%w: empty response content", ErrMalformed)
	}
	return resp, nil
}
