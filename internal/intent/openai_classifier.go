package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/kaptinlin/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const (
	classifyToolName = "classify_intent"

	finishReasonToolCalls = "tool_calls"

	classifyPrompt = `You classify what a caller to a hair and beauty salon wants.
Call classify_intent exactly once for the caller's latest utterance.
Use urgent only for medical or safety emergencies.
Leave entity fields empty when the caller did not mention them.`
)

// OpenAIConfig configures the OpenAI tool-calling classifier.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the public endpoint
	Model   string
}

// OpenAIClassifier classifies transcripts with a single forced tool call.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	params openai.FunctionParameters
	schema *jsonschema.Schema
}

type classifyArgs struct {
	Category      Category `json:"category"`
	Confidence    float64  `json:"confidence"`
	Urgent        bool     `json:"urgent"`
	Service       string   `json:"service"`
	RequestedTime string   `json:"requested_time"`
	CustomerName  string   `json:"customer_name"`
	Notes         string   `json:"notes"`
}

// classifySchema returns the JSON Schema of the classify_intent arguments.
func classifySchema() map[string]any {
	enum := make([]any, 0, len(Categories))
	for _, c := range Categories {
		enum = append(enum, string(c))
	}
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category":       map[string]any{"type": "string", "enum": enum},
			"confidence":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"urgent":         map[string]any{"type": "boolean"},
			"service":        str,
			"requested_time": str,
			"customer_name":  str,
			"notes":          str,
		},
		"required":             []any{"category", "confidence", "urgent", "service", "requested_time", "customer_name", "notes"},
		"additionalProperties": false,
	}
}

// NewOpenAIClassifier creates a classifier against an OpenAI-compatible
// chat completions endpoint.
func NewOpenAIClassifier(cfg OpenAIConfig, opts ...option.RequestOption) (*OpenAIClassifier, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	raw, err := json.Marshal(classifySchema())
	if err != nil {
		return nil, fmt.Errorf("marshal classify schema: %w", err)
	}
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile classify schema: %w", err)
	}
	var params openai.FunctionParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode classify schema: %w", err)
	}

	var reqOpts []option.RequestOption
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	client := openai.NewClient(reqOpts...)

	return &OpenAIClassifier{
		client: &client,
		model:  cfg.Model,
		params: params,
		schema: schema,
	}, nil
}

// Name implements Classifier.
func (c *OpenAIClassifier) Name() string {
	return "openai"
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, text, callID string) (*Record, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: param.NewOpt(classifyPrompt)},
			}},
			{OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: param.NewOpt(text)},
			}},
		},
		Tools: []openai.ChatCompletionToolParam{{
			Function: openai.FunctionDefinitionParam{
				Name:        classifyToolName,
				Description: param.NewOpt("Record the caller's intent and any booking details."),
				Parameters:  c.params,
				Strict:      param.NewOpt(true),
			},
		}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: classifyToolName},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("classify intent: no choices")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("classify intent: no tool call, finish reason %q", choice.FinishReason)
	}
	call := choice.Message.ToolCalls[0]
	if call.Function.Name != classifyToolName {
		return nil, fmt.Errorf("classify intent: unexpected tool %q", call.Function.Name)
	}

	args, err := c.decodeArgs(call.Function.Arguments)
	if err != nil {
		return nil, err
	}
	return &Record{
		Category: args.Category,
		Entities: Entities{
			Service:       args.Service,
			RequestedTime: args.RequestedTime,
			CustomerName:  args.CustomerName,
			Notes:         args.Notes,
		},
		Confidence: args.Confidence,
		Urgent:     args.Urgent,
		Source:     SourceLLM,
	}, nil
}

// decodeArgs repairs malformed JSON arguments, then validates them against the
// tool schema before decoding.
func (c *OpenAIClassifier) decodeArgs(raw string) (*classifyArgs, error) {
	data := []byte(raw)
	if !json.Valid(data) {
		fixed, err := jsonrepair.JSONRepair(raw)
		if err != nil {
			return nil, fmt.Errorf("repair tool arguments: %w", err)
		}
		data = []byte(fixed)
	}

	result := c.schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("tool arguments failed validation: %v", result.Errors)
	}

	var args classifyArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return &args, nil
}
