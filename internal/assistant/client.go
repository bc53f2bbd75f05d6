package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const vibePrompt = `Analyze this street-level image for pedestrian safety and atmosphere.
Look for signs of disorder such as graffiti, litter, abandoned or boarded-up
buildings and overgrown vegetation, and for safety features such as street
lighting, visibility, people around, cameras or a police box.

Respond with JSON only:
{
  "safety_score": 0-100 (100 is very safe, clean and bright; 0 is dangerous, dirty or dark),
  "atmosphere": "one short line describing the place",
  "lighting": "Low" | "Medium" | "High",
  "risk_factors": ["up to three short risk phrases, empty when none"]
}`

const (
	concierge = `You are a calm, polite travel concierge. Rewrite the route briefing for a
pedestrian in two or three friendly sentences. Keep every fact, number and
warning; add nothing that is not in the briefing.`
	tactical = `You are an emergency dispatcher. Rewrite the route briefing as short,
direct, imperative sentences with no filler. Keep every fact, number and
warning; add nothing that is not in the briefing.`
)

type vibeResponse struct {
	SafetyScore float64  `json:"safety_score"`
	Atmosphere  string   `json:"atmosphere"`
	Lighting    string   `json:"lighting"`
	RiskFactors []string `json:"risk_factors"`
}

type ClientOption func(*Client)

// Client scores street-level images and rewrites narratives through the
// OpenAI chat completions API.
type Client struct {
	apiKey  string
	baseUrl string
	model   string
	http    *http.Client
	ai      *openai.Client
}

func ApiKeyOption(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

func BaseUrlOption(baseUrl string) ClientOption {
	return func(c *Client) {
		c.baseUrl = baseUrl
	}
}

func ModelOption(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

func HTTPClientOption(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func New(opts ...ClientOption) *Client {
	c := &Client{model: openai.GPT4oMini}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		panic("Missing apikey in assistant client")
	}

	cfg := openai.DefaultConfig(c.apiKey)
	if c.baseUrl != "" {
		cfg.BaseURL = c.baseUrl
	}
	if c.http != nil {
		cfg.HTTPClient = c.http
	}
	c.ai = openai.NewClientWithConfig(cfg)
	return c
}

// Vibe scores an image for pedestrian safety.
func (c *Client) Vibe(ctx context.Context, image []byte, contentType string) (t.Vibe, error) {
	if len(image) == 0 {
		return t.Vibe{}, errors.New("empty image")
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))

	resp, err := c.ai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: vibePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      300,
	})
	if err != nil {
		return t.Vibe{}, errors.Wrap(err, "openai vibe request")
	}
	if len(resp.Choices) == 0 {
		return t.Vibe{}, errors.New("openai vibe response has no choices")
	}

	var v vibeResponse
	if err := json.Unmarshal([]byte(stripFence(resp.Choices[0].Message.Content)), &v); err != nil {
		return t.Vibe{}, errors.Wrap(err, "error unmarshalling vibe response")
	}
	return t.Vibe{
		Score:      math.Max(0, math.Min(v.SafetyScore, 100)),
		Atmosphere: strings.TrimSpace(v.Atmosphere),
		Tags:       v.RiskFactors,
	}, nil
}

// Rewrite rephrases narrative in the tone of persona.
func (c *Client) Rewrite(ctx context.Context, persona t.Persona, narrative string) (string, error) {
	system := concierge
	if persona == t.PersonaTactical {
		system = tactical
	}
	resp, err := c.ai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: narrative},
		},
		MaxTokens: 400,
	})
	if err != nil {
		return "", errors.Wrap(err, "openai rewrite request")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai rewrite response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
