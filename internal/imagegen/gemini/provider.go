// Package gemini calls the Gemini generateContent REST endpoint for image edits.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/merchmate/internal/config"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

const maxErrorBody = 64 << 10

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// Provider implements models.ImageGenerator against the Gemini API.
type Provider struct {
	cfg    config.GeminiConfig
	client *http.Client
	logger zerolog.Logger
}

func NewProvider(cfg config.GeminiConfig, timeout time.Duration, logger zerolog.Logger) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("generator", "gemini").Logger(),
	}
}

func (p *Provider) Name() string { return "gemini" }

// Generate sends the source image and prompt and returns the first inline
// image of the first candidate.
func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (models.Image, error) {
	mime := req.Image.MIMEType
	if mime == "" {
		mime = models.DefaultImageMIME
	}
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: mime, Data: req.Image.Base64()}},
				{Text: req.Prompt},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		// The URL carries the API key; keep it out of the stored error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return models.Image{}, models.TransportFailure(fmt.Errorf("invoke gemini: %w", err))
	}
	defer resp.Body.Close()

	p.logger.Debug().
		Str("model", p.cfg.Model).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("gemini generateContent")

	if resp.StatusCode >= http.StatusBadRequest {
		return models.Image{}, errorFromResponse(resp)
	}

	var out generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Image{}, models.TransportFailure(fmt.Errorf("decode gemini response: %w", err))
	}
	return firstInlineImage(out)
}

func errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := fmt.Sprintf("gemini status %d", resp.StatusCode)
	var apiErr errorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
	} else if text := strings.TrimSpace(string(raw)); text != "" {
		msg = fmt.Sprintf("gemini status %d: %s", resp.StatusCode, text)
	}

	if resp.StatusCode == http.StatusTooManyRequests || models.IsQuotaMessage(msg) {
		return models.RateLimited(msg, models.RetryAfterFromMessage(string(raw)))
	}
	return models.BackendFailure(msg)
}

func firstInlineImage(out generateContentResponse) (models.Image, error) {
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return models.Image{}, models.BackendFailure("No content returned from Gemini.")
	}
	for _, pt := range out.Candidates[0].Content.Parts {
		if pt.InlineData == nil || pt.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
		if err != nil {
			return models.Image{}, models.BackendFailure(fmt.Sprintf("decode inline data: %v", err))
		}
		if len(data) == 0 {
			continue
		}
		mime := pt.InlineData.MimeType
		if mime == "" {
			mime = models.DefaultImageMIME
		}
		return models.Image{MIMEType: mime, Data: data}, nil
	}
	return models.Image{}, models.BackendFailure("No image data found in the response.")
}

var _ models.ImageGenerator = (*Provider)(nil)
