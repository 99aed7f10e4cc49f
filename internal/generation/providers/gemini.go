package providers

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/postloom/postloom/internal/config"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/generation/domain"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Gemini generates images synchronously through the Google generative AI
// API.
type Gemini struct {
	apiKey       string
	defaultModel string
	log          *zap.Logger
}

func NewGemini(cfg config.Config, log *zap.Logger) *Gemini {
	return &Gemini{
		apiKey:       cfg.Gemini.APIKey,
		defaultModel: cfg.Gemini.Model,
		log:          log.Named("generation.gemini"),
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Kind() contentdomain.Kind { return contentdomain.KindImage }

func (g *Gemini) Generate(ctx context.Context, input domain.GenerateInput) (*domain.StartResult, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailed, err)
	}
	defer client.Close()

	modelName := input.Model
	if modelName == "" {
		modelName = g.defaultModel
	}
	model := client.GenerativeModel(modelName)

	resp, err := model.GenerateContent(ctx, genai.Text(input.Prompt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailed, err)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				g.log.Debug("image generated",
					zap.String("model", modelName),
					zap.Int("bytes", len(blob.Data)))
				return &domain.StartResult{Data: blob.Data, MIMEType: blob.MIMEType}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: response contained no image", domain.ErrProviderFailed)
}

func (g *Gemini) CheckTask(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	return nil, domain.ErrNoSuchTask
}
