package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nikhilbhutani/voicebridge/internal/storage"
)

// Stager makes local audio fetchable by URL.
type Stager interface {
	Stage(ctx context.Context, data []byte, contentType string) (*storage.StagedObject, error)
}

// DashScopeConfig holds configuration for the DashScope file transcription backend.
type DashScopeConfig struct {
	APIKey       string
	BaseURL      string        // default: "https://dashscope.aliyuncs.com"
	Model        string        // default: "paraformer-v2"
	Language     string        // source-language hint, default: "zh"
	PollInterval time.Duration // default: 1s
}

// DashScope transcribes through an asynchronous job. The service only accepts
// file URLs, so audio is staged first.
type DashScope struct {
	cfg        DashScopeConfig
	stager     Stager
	httpClient *http.Client
}

func NewDashScope(cfg DashScopeConfig, stager Stager) *DashScope {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dashscope.aliyuncs.com"
	}
	if cfg.Model == "" {
		cfg.Model = "paraformer-v2"
	}
	if cfg.Language == "" {
		cfg.Language = "zh"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &DashScope{
		cfg:        cfg,
		stager:     stager,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *DashScope) Name() string { return "dashscope-" + d.cfg.Model }

const (
	taskPending   = "PENDING"
	taskRunning   = "RUNNING"
	taskSucceeded = "SUCCEEDED"
)

type taskOutput struct {
	TaskID     string       `json:"task_id"`
	TaskStatus string       `json:"task_status"`
	Results    []taskResult `json:"results"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
}

type taskResult struct {
	FileURL          string `json:"file_url"`
	TranscriptionURL string `json:"transcription_url"`
	SubtaskStatus    string `json:"subtask_status"`
	Code             string `json:"code"`
	Message          string `json:"message"`
}

type taskResponse struct {
	RequestID string     `json:"request_id"`
	Output    taskOutput `json:"output"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
}

// Transcribe stages the audio, submits a job, blocks until the job is
// terminal and returns the first transcript's text. Errors are
// *storage.StagingError or *TranscriptionError, or wrap a transport failure.
func (d *DashScope) Transcribe(ctx context.Context, audio Audio) (string, error) {
	obj, err := d.stager.Stage(ctx, audio.Data, audio.ContentType)
	if err != nil {
		return "", err
	}

	taskID, err := d.submit(ctx, obj.URL)
	if err != nil {
		return "", err
	}
	slog.Debug("transcription job submitted", "task_id", taskID, "key", obj.Key)

	out, err := d.wait(ctx, taskID)
	if err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", &TranscriptionError{StatusCode: http.StatusOK, Message: "job returned no results"}
	}

	first := out.Results[0]
	if first.SubtaskStatus != "" && first.SubtaskStatus != taskSucceeded {
		return "", &TranscriptionError{StatusCode: http.StatusOK, Code: first.Code, Message: first.Message}
	}

	return d.fetchTranscript(ctx, first.TranscriptionURL)
}

func (d *DashScope) submit(ctx context.Context, fileURL string) (string, error) {
	body := map[string]any{
		"model": d.cfg.Model,
		"input": map[string]any{
			"file_urls": []string{fileURL},
		},
		"parameters": map[string]any{
			"language_hints": []string{d.cfg.Language},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/api/v1/services/audio/asr/transcription", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	req.Header.Set("X-DashScope-Async", "enable")

	var resp taskResponse
	if err := d.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Output.TaskID == "" {
		return "", &TranscriptionError{StatusCode: http.StatusOK, Code: resp.Code, Message: "no task id in response"}
	}
	return resp.Output.TaskID, nil
}

// wait polls the task until it leaves PENDING/RUNNING. Only ctx bounds it.
func (d *DashScope) wait(ctx context.Context, taskID string) (*taskOutput, error) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+"/api/v1/tasks/"+taskID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

		var resp taskResponse
		if err := d.do(req, &resp); err != nil {
			return nil, err
		}

		switch resp.Output.TaskStatus {
		case taskPending, taskRunning:
		case taskSucceeded:
			return &resp.Output, nil
		default:
			msg := resp.Output.Message
			if msg == "" {
				msg = "task " + resp.Output.TaskStatus
			}
			return nil, &TranscriptionError{StatusCode: http.StatusOK, Code: resp.Output.Code, Message: msg}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *DashScope) fetchTranscript(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result struct {
		Transcripts []struct {
			Text string `json:"text"`
		} `json:"transcripts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	if len(result.Transcripts) == 0 {
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Message: "no transcripts in result"}
	}

	return result.Transcripts[0].Text, nil
}

func (d *DashScope) do(req *http.Request, dst *taskResponse) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dashscope request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr taskResponse
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = string(body)
		}
		return &TranscriptionError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: msg}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
