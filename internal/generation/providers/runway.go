package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/postloom/postloom/internal/config"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/generation/domain"
	"go.uber.org/zap"
)

const runwayAPIVersion = "2024-11-06"

// Runway generates video through task-based jobs; the sweeper polls the
// task until it settles.
type Runway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewRunway(cfg config.Config, log *zap.Logger) *Runway {
	return &Runway{
		baseURL:    strings.TrimRight(cfg.Runway.BaseURL, "/"),
		apiKey:     cfg.Runway.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("generation.runway"),
	}
}

func (r *Runway) Name() string { return "runway" }

func (r *Runway) Kind() contentdomain.Kind { return contentdomain.KindVideo }

func (r *Runway) request(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("X-Runway-Version", runwayAPIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrProviderFailed, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderFailed, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailed, err)
		}
	}
	return nil
}

func (r *Runway) Generate(ctx context.Context, input domain.GenerateInput) (*domain.StartResult, error) {
	model := input.Model
	if model == "" {
		model = "gen4_turbo"
	}
	duration := input.DurationSecs
	if duration <= 0 {
		duration = 5
	}

	payload := map[string]any{
		"promptText": input.Prompt,
		"model":      model,
		"duration":   duration,
		"ratio":      "720:1280",
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := r.request(ctx, http.MethodPost, "/text_to_video", payload, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("%w: empty task id", domain.ErrProviderFailed)
	}

	r.log.Debug("video task created", zap.String("task_id", created.ID))
	return &domain.StartResult{TaskID: created.ID}, nil
}

func (r *Runway) CheckTask(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	var task struct {
		Status  string   `json:"status"`
		Output  []string `json:"output"`
		Failure string   `json:"failure"`
	}
	if err := r.request(ctx, http.MethodGet, "/tasks/"+taskID, nil, &task); err != nil {
		return nil, err
	}

	switch task.Status {
	case "SUCCEEDED":
		if len(task.Output) == 0 {
			return &domain.TaskStatus{State: domain.TaskFailed, Reason: "task succeeded without output"}, nil
		}
		return &domain.TaskStatus{State: domain.TaskSucceeded, MediaURL: task.Output[0]}, nil
	case "FAILED", "CANCELLED":
		return &domain.TaskStatus{State: domain.TaskFailed, Reason: task.Failure}, nil
	default:
		return &domain.TaskStatus{State: domain.TaskPending}, nil
	}
}
