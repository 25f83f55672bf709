package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Intent is the classified purpose of an approver message.
type Intent string

const (
	IntentApprove Intent = "approve"
	IntentReject  Intent = "reject"
	IntentStatus  Intent = "status"
	IntentPayment Intent = "payment"
	IntentUnknown Intent = "unknown"
)

// Action is the structured interpretation of a free-form thread message.
// Optional fields are empty when the message did not carry them.
type Action struct {
	Intent         Intent `json:"intent"`
	CostCenter     string `json:"cost_center,omitempty"`
	Reason         string `json:"reason,omitempty"`
	TransactionRef string `json:"transaction_id,omitempty"`
}

// Resolver turns a raw message into an Action. Implementations never fail:
// on any upstream error the heuristic classification is returned instead.
type Resolver interface {
	Resolve(ctx context.Context, content string) Action
}

var (
	ledgerHashPattern = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
	costCenterPattern = regexp.MustCompile(`(?i)(cc[-\s:]?\s*\w+|cost\s*center[:\s]*\w+|\b\d{3,6}\b)`)
	reasonPattern     = regexp.MustCompile(`(?i)(?:because|due to|reason[:\s])\s+(.+)`)
)

const classifyPrompt = `You are an assistant that classifies replies in an invoice approval thread.
Given the message below, respond with ONLY a JSON object, no other text:
{
  "intent": "approve" | "reject" | "status" | "payment" | "unknown",
  "cost_center": "<cost center if the message provides one, else null>",
  "reason": "<rejection reason if the message provides one, else null>",
  "transaction_id": "<payment transaction id or hash if the message provides one, else null>"
}

Message:
%s`

// LLMResolver classifies messages through an OpenAI-style chat completions
// endpoint, falling back to keyword heuristics when the model is unreachable
// or returns something unparsable.
type LLMResolver struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewLLMResolver(baseURL, apiKey, model string, logger *slog.Logger) *LLMResolver {
	return &LLMResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *LLMResolver) Resolve(ctx context.Context, content string) Action {
	// A ledger transaction hash is unambiguous regardless of how the model
	// classifies the rest of the message.
	if hash := ledgerHashPattern.FindString(content); hash != "" {
		return Action{Intent: IntentPayment, TransactionRef: strings.ToLower(hash)}
	}

	if r.baseURL == "" {
		return Fallback(content)
	}

	raw, err := r.complete(ctx, content)
	if err != nil {
		r.logger.Warn("intent classification failed, using heuristics", "error", err)
		return Fallback(content)
	}

	action, ok := parseAction(raw)
	if !ok {
		r.logger.Warn("unparsable classifier response, using heuristics", "response", raw)
		return Fallback(content)
	}
	return action
}

func (r *LLMResolver) complete(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, content)},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseAction extracts the first balanced JSON object from the model output.
// Models often wrap the object in prose or code fences.
func parseAction(raw string) (Action, bool) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Action{}, false
	}

	var decoded struct {
		Intent        string `json:"intent"`
		CostCenter    string `json:"cost_center"`
		Reason        string `json:"reason"`
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return Action{}, false
	}

	action := Action{
		Intent:         normalizeIntent(decoded.Intent),
		CostCenter:     normalizeField(decoded.CostCenter),
		Reason:         normalizeField(decoded.Reason),
		TransactionRef: normalizeField(decoded.TransactionID),
	}
	return action, true
}

func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

func normalizeIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentApprove:
		return IntentApprove
	case IntentReject:
		return IntentReject
	case IntentStatus:
		return IntentStatus
	case IntentPayment:
		return IntentPayment
	default:
		return IntentUnknown
	}
}

// normalizeField maps the null-ish strings models emit for absent values to
// the empty string.
func normalizeField(s string) string {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "none", "null":
		return ""
	}
	return trimmed
}

// Fallback classifies a message with keyword heuristics. It extracts cost
// centers and rejection reasons but deliberately never extracts transaction
// references: a bare alphanumeric token is too ambiguous without the model.
func Fallback(content string) Action {
	lowered := strings.ToLower(content)

	switch {
	case strings.Contains(lowered, "status"):
		return Action{Intent: IntentStatus}
	case strings.Contains(lowered, "approve"):
		action := Action{Intent: IntentApprove}
		if m := costCenterPattern.FindString(content); m != "" {
			action.CostCenter = strings.TrimSpace(m)
		}
		return action
	case strings.Contains(lowered, "reject"):
		action := Action{Intent: IntentReject}
		if m := reasonPattern.FindStringSubmatch(content); len(m) > 1 {
			action.Reason = strings.TrimSpace(m[1])
		}
		return action
	default:
		return Action{Intent: IntentUnknown}
	}
}
