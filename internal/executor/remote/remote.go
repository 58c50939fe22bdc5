// Package remote runs image expansions on an HTTP inference gateway.
//
// The gateway owns model selection and polling. From here it is one POST that
// returns when the image is ready or fails.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/resize-credits/internal/executor"
)

// Config holds the gateway settings.
type Config struct {
	URL   string
	Token string

	// Timeout bounds a single expansion, waiting for a slot included.
	Timeout time.Duration

	// MaxConcurrent caps in-flight gateway calls from this process.
	MaxConcurrent int
}

// DefaultConfig is tuned for a gateway that polls a hosted model for up to
// about two minutes.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Minute,
		MaxConcurrent: 4,
	}
}

// Executor implements executor.Executor over HTTP.
type Executor struct {
	config Config
	http   *http.Client
	logger *slog.Logger
	slots  chan struct{}
}

var _ executor.Executor = (*Executor)(nil)

func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote: gateway URL is required")
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	return &Executor{
		config: cfg,
		http:   &http.Client{},
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

type gatewayRequest struct {
	Image       string `json:"image"`
	MimeType    string `json:"mime_type,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	AspectRatio string `json:"aspect_ratio"`
}

type gatewayResponse struct {
	ImageData string `json:"image_data"`
	Model     string `json:"model"`
	Error     string `json:"error"`
}

// Execute blocks for a free slot, then calls the gateway.
func (e *Executor) Execute(ctx context.Context, req executor.ExpandRequest) (*executor.ExpandResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", executor.ErrBusy, ctx.Err())
	}

	payload, err := json.Marshal(gatewayRequest{
		Image:       req.ImageData,
		MimeType:    req.MimeType,
		Width:       req.TargetSize.Width,
		Height:      req.TargetSize.Height,
		AspectRatio: req.TargetSize.AspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.Token)
	}

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote: calling gateway: %w", err)
	}
	defer resp.Body.Close()

	var out gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote: decoding gateway response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("remote: gateway returned status %d: %s", resp.StatusCode, out.Error)
	}
	if out.ImageData == "" {
		return nil, errors.New("remote: gateway returned no image")
	}

	e.logger.Debug("image expanded",
		slog.String("target", req.TargetSize.Key),
		slog.String("model", out.Model),
		slog.Duration("duration", time.Since(start)),
	)

	return &executor.ExpandResult{
		ImageData: out.ImageData,
		Width:     req.TargetSize.Width,
		Height:    req.TargetSize.Height,
		Model:     out.Model,
		Duration:  time.Since(start),
	}, nil
}
