// Package proxy calls a MerchMate-compatible POST /api/generate endpoint.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/merchmate/internal/config"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

const (
	msgQuotaExceeded = "API quota exceeded. Please try again later."
	msgNoImage       = "No image data returned from server"
)

type generateRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Prompt      string `json:"prompt"`
}

type generateResponse struct {
	Success    bool   `json:"success"`
	Image      string `json:"image"`
	Error      string `json:"error"`
	Details    string `json:"details"`
	RetryAfter int    `json:"retryAfter"`
}

// Provider implements models.ImageGenerator by forwarding to another MerchMate
// server (or the original Node proxy).
type Provider struct {
	cfg    config.ProxyConfig
	client *http.Client
	logger zerolog.Logger
}

func NewProvider(cfg config.ProxyConfig, timeout time.Duration, logger zerolog.Logger) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("generator", "proxy").Logger(),
	}
}

func (p *Provider) Name() string { return "proxy" }

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (models.Image, error) {
	body, err := json.Marshal(generateRequest{
		ImageBase64: req.Image.DataURL(),
		Prompt:      req.Prompt,
	})
	if err != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("invoke proxy: %w", err))
	}
	defer resp.Body.Close()

	p.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("proxy generate")

	var out generateResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			msg := out.Error
			if msg == "" {
				msg = msgQuotaExceeded
			}
			retry := models.DefaultRetryAfter
			if out.RetryAfter > 0 {
				retry = time.Duration(out.RetryAfter) * time.Second
			}
			return models.Image{}, models.RateLimited(msg, retry)
		}
		msg := out.Error
		switch {
		case msg == "":
			msg = fmt.Sprintf("API request failed with status %d", resp.StatusCode)
		case out.Details != "":
			msg = fmt.Sprintf("%s: %s", msg, out.Details)
		}
		return models.Image{}, models.BackendFailure(msg)
	}

	if decodeErr != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("decode proxy response: %w", decodeErr))
	}
	if !out.Success || out.Image == "" {
		return models.Image{}, models.BackendFailure(msgNoImage)
	}
	img, err := models.ParseImage(out.Image)
	if err != nil {
		return models.Image{}, models.BackendFailure(fmt.Sprintf("invalid image returned from server: %v", err))
	}
	return img, nil
}

var _ models.ImageGenerator = (*Provider)(nil)
