package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

const systemInstruction = `You validate swing-trade plans on US micro-caps ($1-$10).
Each candidate has ENTRY, STOP, TP1 (1.5R), TP2 (3R) and risk-based SHARES already computed.
Do not adjust numbers. Refuse illiquid, over-extended or poor reward/risk setups.
Answer only with JSON: {"decisions":[{"ticker":string,"allow":bool,"rank":int>=1,"confidence":0..1,"reasons":[string]}]}`

// Client reviews plan proposals with Gemini.
type Client struct {
	apiKey  string
	url     string
	enabled bool
	httpc   *http.Client
}

// NewClient returns a reviewer. When enabled is false or the key is empty,
// Review allows every candidate without calling out.
func NewClient(enabled bool, apiKey, model string) *Client {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if enabled && apiKey == "" {
		log.Println("WARNING: GEMINI_API_KEY not found. AI review will be skipped.")
	}
	return &Client{
		apiKey:  apiKey,
		url:     fmt.Sprintf(defaultEndpoint, model),
		enabled: enabled,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Review returns one decision per candidate, ordered by rank.
// Any failure of the remote call degrades to "allowed by fallback".
func (c *Client) Review(ctx context.Context, cands []ReviewCandidate) []ReviewDecision {
	switch {
	case !c.enabled:
		return fallback(cands, 0.5, "AI review disabled")
	case c.apiKey == "":
		return fallback(cands, 0.5, "Missing GEMINI_API_KEY")
	}

	decisions, err := c.call(ctx, cands)
	if err != nil {
		log.Printf("WARNING: AI review failed: %v", err)
		return fallback(cands, 0.4, "AI call failed; allowed by fallback")
	}
	if len(decisions) == 0 {
		return fallback(cands, 0.4, "AI returned empty; allowed by fallback")
	}

	sort.SliceStable(decisions, func(i, j int) bool { return decisions[i].Rank < decisions[j].Rank })
	return decisions
}

func (c *Client) call(ctx context.Context, cands []ReviewCandidate) ([]ReviewDecision, error) {
	candJSON, err := json.Marshal(map[string]any{"candidates": cands})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"system_instruction": map[string]any{
			"parts": map[string]any{"text": systemInstruction},
		},
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": string(candJSON)}}},
		},
		"generationConfig": map[string]any{
			"response_mime_type": "application/json",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"?key="+c.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("AI API error %d: %s", resp.StatusCode, msg)
	}

	// candidates[0].content.parts[0].text holds the JSON answer
	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode AI response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no candidates in AI response")
	}
	text := result.Candidates[0].Content.Parts[0].Text

	var parsed reviewResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse AI JSON output: %w. Raw: %s", err, text)
	}

	out := parsed.Decisions[:0]
	for _, d := range parsed.Decisions {
		if d.Ticker != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

func fallback(cands []ReviewCandidate, confidence float64, reason string) []ReviewDecision {
	out := make([]ReviewDecision, 0, len(cands))
	for i, c := range cands {
		out = append(out, ReviewDecision{
			Ticker:     c.Ticker,
			Allow:      true,
			Rank:       i + 1,
			Confidence: confidence,
			Reasons:    []string{reason},
		})
	}
	return out
}
