// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package analysis runs the vision model over stored frames and turns its
// output into structured item candidates.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"

	"github.com/cardinalhq/framepipe/internal/cloudstorage"
	"github.com/cardinalhq/framepipe/internal/logctx"
	"github.com/cardinalhq/framepipe/internal/workflow"
)

const systemPrompt = `You are a visual inventory assistant. You identify distinct physical items in photos of rooms and respond only with structured JSON, never prose.`

const itemPrompt = `List every distinct physical item visible in this image.
Respond with a JSON array only, no surrounding text. Each element:
{"caption": "short item name", "description": "one sentence", "category": "furniture|electronics|art|clothing|other", "estimatedValue": 123.45, "confidence": 0.9}
Use null for estimatedValue when you cannot price the item. Confidence is
between 0 and 1. Respond with [] if no items are visible.`

// Config parameterizes the Ollama-backed vision model.
type Config struct {
	BaseURL string `mapstructure:"base_url"`
	Port    int    `mapstructure:"port"`
	Model   string `mapstructure:"model"`
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost"
	}
	if c.Port == 0 {
		c.Port = 11434
	}
	if c.Model == "" {
		c.Model = "llama3.2-vision:11b"
	}
}

// RunFunc invokes the vision model on one image and returns its raw text
// output. Kept as a function so tests can substitute canned responses.
type RunFunc func(ctx context.Context, prompt, imagePath string) (string, error)

// Analyzer downloads a frame from object storage and asks the vision model
// for item candidates.
type Analyzer struct {
	storage cloudstorage.Client
	run     RunFunc
}

var _ workflow.Analyzer = (*Analyzer)(nil)

// NewAnalyzer builds an analyzer over an arbitrary model invoker.
func NewAnalyzer(storage cloudstorage.Client, run RunFunc) *Analyzer {
	return &Analyzer{storage: storage, run: run}
}

// NewOllamaAnalyzer wires the analyzer to a local or remote Ollama server.
func NewOllamaAnalyzer(ctx context.Context, storage cloudstorage.Client, cfg Config, logger *slog.Logger) *Analyzer {
	cfg.applyDefaults()

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	visionAgent := agent.NewAgent(&agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: systemPrompt,
	})

	run := func(ctx context.Context, prompt, imagePath string) (string, error) {
		response := visionAgent.Run(ctx,
			agent.WithInput(prompt),
			agent.WithImagePath(imagePath),
		)
		if response.Err != nil {
			return "", response.Err
		}
		if len(response.Messages) == 0 {
			return "", fmt.Errorf("no response messages received from model")
		}
		return response.Messages[len(response.Messages)-1].Content, nil
	}
	return NewAnalyzer(storage, run)
}

// Analyze fetches the frame at frameURI and returns the model's item
// candidates. Irrecoverable inputs (missing object, undecodable image,
// unparseable model output) come back as terminal errors; everything else
// is left retryable.
func (a *Analyzer) Analyze(ctx context.Context, frameURI string) ([]workflow.ItemCandidate, error) {
	ll := logctx.FromContext(ctx)

	bucket, key, err := cloudstorage.ParseURI(frameURI)
	if err != nil {
		return nil, workflow.Terminal(err)
	}

	body, notFound, err := a.storage.DownloadObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download frame: %w", err)
	}
	if notFound {
		// Frames are written before their descriptor is enqueued, so a
		// missing object will not appear later.
		return nil, workflow.Terminalf("frame object %s not found", frameURI)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(body)); err != nil {
		return nil, workflow.Terminalf("frame %s is not a decodable image: %s", frameURI, err.Error())
	}

	// The agent API takes image paths, not bytes.
	framePath, cleanup, err := spoolFrame(body, key)
	if err != nil {
		return nil, fmt.Errorf("spool frame: %w", err)
	}
	defer cleanup()

	content, err := a.run(ctx, itemPrompt, framePath)
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}

	items, err := ParseItems(content)
	if err != nil {
		ll.Warn("unparseable model output",
			slog.String("frameURI", frameURI),
			slog.Any("error", err))
		return nil, workflow.Terminal(err)
	}

	ll.Debug("frame analyzed",
		slog.String("frameURI", frameURI),
		slog.Int("items", len(items)))
	return items, nil
}

// spoolFrame writes frame bytes to a scratch file for the agent to read.
func spoolFrame(body []byte, key string) (string, func(), error) {
	f, err := os.CreateTemp("", "framepipe-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() { os.Remove(name) }, nil
}
