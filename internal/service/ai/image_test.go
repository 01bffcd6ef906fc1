package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mxfan/gemchat/backend/internal/config"
)

func newImageService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Service{
		cfg: config.AIConfig{
			BaseURL:    srv.URL,
			APIKey:     "test-key",
			ImageModel: "img-default",
		},
		httpClient: srv.Client(),
	}
}

func TestGenerateImageSuccess(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	svc := newImageService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "img-default" || req.Prompt != "a red fox" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(raw)}},
		})
	})

	data, mimeType, err := svc.GenerateImage(context.Background(), "a red fox", "")
	if err != nil {
		t.Fatalf("GenerateImage err: %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("unexpected mime type %q", mimeType)
	}
	if string(data) != string(raw) {
		t.Fatalf("unexpected image bytes: %v", data)
	}
}

func TestGenerateImageNoImage(t *testing.T) {
	svc := newImageService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	_, _, err := svc.GenerateImage(context.Background(), "a red fox", "")
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestGenerateImageBackendError(t *testing.T) {
	svc := newImageService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "prompt rejected"},
		})
	})

	_, _, err := svc.GenerateImage(context.Background(), "a red fox", "")
	if err == nil || errors.Is(err, ErrNoImage) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestGenerateImageEmptyPrompt(t *testing.T) {
	svc := newImageService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if _, _, err := svc.GenerateImage(context.Background(), "   ", ""); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
