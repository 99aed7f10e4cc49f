package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/postloom/postloom/internal/config"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/generation/domain"
	"go.uber.org/zap"
)

// Suno generates audio tracks through task-based jobs.
type Suno struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewSuno(cfg config.Config, log *zap.Logger) *Suno {
	return &Suno{
		baseURL:    strings.TrimRight(cfg.Suno.BaseURL, "/"),
		apiKey:     cfg.Suno.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("generation.suno"),
	}
}

func (s *Suno) Name() string { return "suno" }

func (s *Suno) Kind() contentdomain.Kind { return contentdomain.KindAudio }

func (s *Suno) request(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
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

func (s *Suno) Generate(ctx context.Context, input domain.GenerateInput) (*domain.StartResult, error) {
	model := input.Model
	if model == "" {
		model = "V4"
	}

	payload := map[string]any{
		"prompt":       input.Prompt,
		"model":        model,
		"instrumental": false,
	}

	var created struct {
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := s.request(ctx, http.MethodPost, "/generate", payload, &created); err != nil {
		return nil, err
	}
	if created.Data.TaskID == "" {
		return nil, fmt.Errorf("%w: empty task id", domain.ErrProviderFailed)
	}

	s.log.Debug("audio task created", zap.String("task_id", created.Data.TaskID))
	return &domain.StartResult{TaskID: created.Data.TaskID}, nil
}

func (s *Suno) CheckTask(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	var record struct {
		Data struct {
			Status   string `json:"status"`
			ErrorMsg string `json:"errorMessage"`
			Response struct {
				SunoData []struct {
					AudioURL string `json:"audioUrl"`
				} `json:"sunoData"`
			} `json:"response"`
		} `json:"data"`
	}
	path := "/generate/record-info?taskId=" + url.QueryEscape(taskID)
	if err := s.request(ctx, http.MethodGet, path, nil, &record); err != nil {
		return nil, err
	}

	switch record.Data.Status {
	case "SUCCESS":
		if len(record.Data.Response.SunoData) == 0 || record.Data.Response.SunoData[0].AudioURL == "" {
			return &domain.TaskStatus{State: domain.TaskFailed, Reason: "task succeeded without audio"}, nil
		}
		return &domain.TaskStatus{State: domain.TaskSucceeded, MediaURL: record.Data.Response.SunoData[0].AudioURL}, nil
	case "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "SENSITIVE_WORD_ERROR":
		return &domain.TaskStatus{State: domain.TaskFailed, Reason: record.Data.ErrorMsg}, nil
	default:
		return &domain.TaskStatus{State: domain.TaskPending}, nil
	}
}
