package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"studyroomix/internal/domain"
)

// DefaultModel 未配置 GEMINI_MODEL 时使用
const DefaultModel = "gemini-2.0-flash"

const tutorInstruction = "You are a patient study tutor. Answer clearly and concisely."

// GeminiGenerator 基于 google.golang.org/genai 的 Generator 实现。
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator 创建 Gemini 客户端
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := genai.Role(genai.RoleUser)
		if turn.Role == domain.ChatRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}

func (g *GeminiGenerator) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(tutorInstruction, genai.RoleUser),
	}
}

// Generate 根据 req.Stream 选择一次性或流式调用。
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	contents := buildContents(req)
	if !req.Stream {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config())
		if err != nil {
			return Reply{}, fmt.Errorf("gemini generate: %w", err)
		}
		return Complete(resp.Text()), nil
	}

	out := make(chan Fragment, 16)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.config()) {
			if err != nil {
				logrus.WithField("model", g.model).WithError(err).Warn("Gemini stream ended with error")
				select {
				case out <- Fragment{Err: fmt.Errorf("gemini stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case out <- Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return Stream(out), nil
}
