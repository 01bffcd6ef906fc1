package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoImage is returned when the provider responds successfully but the
// response contains no decodable image part.
var ErrNoImage = errors.New("no image generated")

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ResponseFormat string `json:"response_format"`
	Size           string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage issues one image generation request and returns the decoded
// image bytes with their media type. No retries: a failure is terminal for
// this attempt and surfaced to the caller.
func (s *Service) GenerateImage(ctx context.Context, prompt, modelID string) ([]byte, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", errors.New("prompt is required")
	}
	if modelID == "" {
		modelID = s.cfg.ImageModel
	}
	if modelID == "" {
		return nil, "", errors.New("no image model configured")
	}

	body, err := json.Marshal(imageRequest{
		Model:          modelID,
		Prompt:         prompt,
		ResponseFormat: "b64_json",
		Size:           "1024x1024",
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal image request: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image response: %w", err)
	}

	var decoded imageResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, "", fmt.Errorf("failed to decode image response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if decoded.Error != nil && decoded.Error.Message != "" {
			return nil, "", fmt.Errorf("image backend error: %s", decoded.Error.Message)
		}
		return nil, "", fmt.Errorf("image backend returned status %d", resp.StatusCode)
	}

	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, "", ErrNoImage
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("%w: undecodable image payload", ErrNoImage)
	}

	return raw, "image/png", nil
}
