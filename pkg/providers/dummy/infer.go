package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/modeladapter"
)

// Canned content returned by the dummy provider.
const (
	InferResponseContent     = "Megumin gleefully chanted her spell, unleashing a thunderous explosion that lit up the sky and left a massive crater in its wake."
	AlternateResponseContent = "Megumin chanted her spell, but instead of an explosion, a gentle rain began to fall."

	JSONResponseRaw           = `{"answer":"Hello"}`
	JSONGoodbyeResponseRaw    = `{"answer":"Goodbye"}`
	JSONDiffSchemaResponseRaw = `{"response":"Hello"}`
	JSONCoTResponseRaw        = `{"thinking":"hmmm", "response": {"answer":"tokyo!"}}`

	ToolName          = "get_temperature"
	ToolArguments     = `{"location":"Brooklyn","units":"celsius"}`
	BadToolArguments  = `{"location":"Brooklyn","units":"Celsius"}`
	thoughtText       = "hmmm"
	thoughtSignature  = "my_signature"
	inferResponseTime = 100 * time.Millisecond
)

// InferResponseRaw is the raw response body echoed for plain text models.
const InferResponseRaw = `{
  "id": "id",
  "object": "text.completion",
  "created": 1618870400,
  "model": "text-davinci-002",
  "choices": [
    {
      "text": "Megumin gleefully chanted her spell, unleashing a thunderous explosion that lit up the sky and left a massive crater in its wake.",
      "index": 0,
      "logprobs": null,
      "finish_reason": null
    }
  ]
}`

var fixedTextOutputs = map[string]string{
	"json":                  JSONResponseRaw,
	"json_goodbye":          JSONGoodbyeResponseRaw,
	"json_cot":              JSONCoTResponseRaw,
	"json_diff_schema":      JSONDiffSchemaResponseRaw,
	"json_beatles_1":        `{"names":["John", "George"]}`,
	"json_beatles_2":        `{"names":["Paul", "Ringo"]}`,
	"best_of_n_0":           `{"thinking": "hmmm", "answer_choice": 0}`,
	"best_of_n_1":           `{"thinking": "hmmm", "answer_choice": 1}`,
	"best_of_n_big":         `{"thinking": "hmmm", "answer_choice": 100}`,
	"flaky_best_of_n_judge": `{"thinking": "hmmm", "answer_choice": 0}`,
	"alternate":             AlternateResponseContent,
	"llm_judge::true":       `{"score": true}`,
	"llm_judge::false":      `{"score": false}`,
	"llm_judge::zero":       `{"score": 0}`,
	"llm_judge::one":        `{"score": 1}`,
}

var fixedRawResponses = map[string]string{
	"tool":          ToolArguments,
	"bad_tool":      BadToolArguments,
	"json":          JSONResponseRaw,
	"json_goodbye":  JSONGoodbyeResponseRaw,
	"json_cot":      JSONCoTResponseRaw,
	"best_of_n_0":   `{"thinking": "hmmm", "answer_choice": 0}`,
	"best_of_n_1":   `{"thinking": "hmmm", "answer_choice": 1}`,
	"best_of_n_big": `{"thinking": "hmmm", "answer_choice": 100}`,
}

// Infer implements modeladapter.Provider.
func (p *Provider) Infer(ctx context.Context, req *modeladapter.Request, creds modeladapter.Credentials) (*modeladapter.Response, error) {
	if err := p.preflight(ctx); err != nil {
		return nil, err
	}

	if p.Model == "multiple-text-blocks" {
		if err := requireTwoTextBlocks(req); err != nil {
			return nil, err
		}
	}

	key, err := p.apiKey(creds)
	if err != nil {
		return nil, err
	}

	if p.Model == "test_key" && key != "" && key != "good_key" {
		return nil, clientError("Invalid API key for Dummy provider")
	}

	output, err := p.output(req)
	if err != nil {
		return nil, err
	}

	resp := modeladapter.NewResponse(req)
	resp.Output = output
	resp.RawRequest = rawRequest
	resp.RawResponse = p.rawResponse()
	resp.Usage = p.usage(len(output))
	resp.Latency = inferResponseTime
	resp.FinishReason = p.finishReason()

	return resp, nil
}

func (p *Provider) rawResponse() string {
	if raw, ok := fixedRawResponses[p.Model]; ok {
		return raw
	}

	return InferResponseRaw
}

func requireTwoTextBlocks(req *modeladapter.Request) error {
	if len(req.Messages) == 0 {
		return clientError("First message must have exactly two text blocks")
	}

	n := 0
	for _, block := range req.Messages[0].Content {
		if _, ok := block.(content.Text); ok {
			n++
		}
	}

	if n != 2 {
		return clientError("First message must have exactly two text blocks")
	}

	return nil
}

func text(s string) content.Output { return content.Text{Text: s} }

func (p *Provider) output(req *modeladapter.Request) (content.Outputs, error) {
	if s, ok := fixedTextOutputs[p.Model]; ok {
		return content.Outputs{text(s)}, nil
	}

	thought := content.Thought{Text: thoughtText}

	switch p.Model {
	case "null":
		return content.Outputs{}, nil
	case "tool":
		return content.Outputs{content.ToolCall{ID: "0", Name: ToolName, Arguments: ToolArguments}}, nil
	case "bad_tool":
		return content.Outputs{content.ToolCall{ID: "0", Name: ToolName, Arguments: BadToolArguments}}, nil
	case "reasoner":
		return content.Outputs{thought, text(InferResponseContent)}, nil
	case "reasoner_with_signature":
		thought.Signature = thoughtSignature
		return content.Outputs{thought, text(InferResponseContent)}, nil
	case "json_reasoner":
		return content.Outputs{thought, text(JSONResponseRaw)}, nil
	case "random_answer":
		return marshalText(map[string]string{"answer": uuid.Must(uuid.NewV7()).String()})
	case "echo_extra_info":
		return marshalText(map[string]any{
			"extra_body":    req.ExtraBody,
			"extra_headers": req.ExtraHeaders,
		})
	case "echo_injected_data":
		body := map[string]any{}
		if err := req.ExtraBody.Apply(body); err != nil {
			return nil, clientError(err.Error())
		}

		return marshalText(map[string]any{
			"injected_body":    body,
			"injected_headers": req.ExtraHeaders.Effective(),
		})
	case "echo_request_messages":
		var system any
		if req.System != "" {
			system = req.System
		}

		return marshalText(map[string]any{
			"system":   system,
			"messages": req.Messages,
		})
	case "extract_images":
		return marshalText(files(req))
	case "require_pdf":
		fs := files(req)
		for _, f := range fs {
			if f.MimeType == "application/pdf" {
				return marshalText(fs)
			}
		}

		return nil, clientError("PDF must be provided for require_pdf model")
	case "llm_judge::error":
		return nil, clientError("Dummy error in inference")
	default:
		return content.Outputs{text(InferResponseContent)}, nil
	}
}

func files(req *modeladapter.Request) []content.File {
	fs := []content.File{}

	for _, m := range req.Messages {
		for _, block := range m.Content {
			if f, ok := block.(content.File); ok {
				fs = append(fs, f)
			}
		}
	}

	return fs
}

func marshalText(v any) (content.Outputs, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dummy: encode output: %w", err)
	}

	return content.Outputs{text(string(data))}, nil
}
