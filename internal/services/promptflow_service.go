package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// PromptFlowConfig is the YAML registry of invocable prompt flows. Each
// entry maps a flow id to the upstream service endpoint that executes it.
type PromptFlowConfig struct {
	BaseURL string                     `yaml:"baseUrl"`
	Timeout string                     `yaml:"timeout"`
	Flows   map[string]PromptFlowEntry `yaml:"flows"`
}

// PromptFlowEntry configures one flow.
type PromptFlowEntry struct {
	Path    string `yaml:"path"`
	Model   string `yaml:"model,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

func (e PromptFlowEntry) enabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// PromptFlowService invokes prompt flows over HTTP for runPromptFlow
// blocks. The flow registry reloads on file change, so operators can add or
// disable flows without a restart.
type PromptFlowService struct {
	configPath string
	httpClient *http.Client
	logger     *logrus.Logger

	mu     sync.RWMutex
	config PromptFlowConfig

	watcher *fsnotify.Watcher
}

// NewPromptFlowService loads the registry and starts watching it. A missing
// config file is not fatal: the service starts empty and picks the file up
// when it appears.
func NewPromptFlowService(configPath string) (*PromptFlowService, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := &PromptFlowService{
		configPath: configPath,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}

	if err := s.reload(); err != nil {
		logger.WithError(err).WithField("path", configPath).Warn("prompt flow config not loaded, starting empty")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	s.watcher = watcher
	if err := watcher.Add(configDir(configPath)); err != nil {
		logger.WithError(err).Warn("prompt flow config directory not watchable")
	}
	go s.watch()

	return s, nil
}

func configDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (s *PromptFlowService) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.WithError(err).Error("prompt flow config reload failed, keeping previous registry")
			} else {
				s.logger.WithField("path", s.configPath).Info("prompt flow config reloaded")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("prompt flow config watcher error")
		}
	}
}

func (s *PromptFlowService) reload() error {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return err
	}
	var cfg PromptFlowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("invalid prompt flow config: %w", err)
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return nil
}

// Invoke implements execution.PromptFlowInvoker: POST the input payload to
// the flow's endpoint and return the decoded output object.
func (s *PromptFlowService) Invoke(ctx context.Context, flowID string, input map[string]any) (map[string]any, error) {
	s.mu.RLock()
	cfg := s.config
	s.mu.RUnlock()

	entry, ok := cfg.Flows[flowID]
	if !ok {
		return nil, fmt.Errorf("unknown prompt flow %q", flowID)
	}
	if !entry.enabled() {
		return nil, fmt.Errorf("prompt flow %q is disabled", flowID)
	}

	payload := map[string]any{"input": input}
	if entry.Model != "" {
		payload["model"] = entry.Model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt flow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+entry.Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt flow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prompt flow request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt flow response: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"flowId":     flowID,
		"status":     resp.StatusCode,
		"durationMs": time.Since(start).Milliseconds(),
	}).Info("prompt flow invoked")

	if resp.StatusCode >= 400 {
		summary := string(respBody)
		if len(summary) > 200 {
			summary = summary[:200]
		}
		return nil, fmt.Errorf("prompt flow %q returned http %d: %s", flowID, resp.StatusCode, summary)
	}

	var output map[string]any
	if err := json.Unmarshal(respBody, &output); err != nil {
		// Non-JSON responses surface as a single text field.
		return map[string]any{"text": string(respBody)}, nil
	}
	return output, nil
}

// Close stops the config watcher.
func (s *PromptFlowService) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
