package config

import (
	"reflect"
	"testing"
)

func TestLoadAIConfigModelCatalogs(t *testing.T) {
	t.Setenv("AI_CHAT_MODEL", "chat-pro")
	t.Setenv("AI_CHAT_MODELS", "chat-pro, chat-lite ,,chat-mini")
	t.Setenv("AI_IMAGE_MODEL", "img-gen")
	t.Setenv("AI_IMAGE_MODELS", "img-gen,img-fast")

	cfg, err := loadAIConfig()
	if err != nil {
		t.Fatalf("loadAIConfig: %v", err)
	}

	wantChat := []string{"chat-pro", "chat-lite", "chat-mini"}
	if !reflect.DeepEqual(cfg.ChatModels, wantChat) {
		t.Fatalf("expected chat models %v, got %v", wantChat, cfg.ChatModels)
	}
	wantImage := []string{"img-gen", "img-fast"}
	if !reflect.DeepEqual(cfg.ImageModels, wantImage) {
		t.Fatalf("expected image models %v, got %v", wantImage, cfg.ImageModels)
	}
}

func TestLoadAIConfigModelCatalogsUnset(t *testing.T) {
	t.Setenv("AI_CHAT_MODELS", "")
	t.Setenv("AI_IMAGE_MODELS", "   ")

	cfg, err := loadAIConfig()
	if err != nil {
		t.Fatalf("loadAIConfig: %v", err)
	}

	if cfg.ChatModels != nil || cfg.ImageModels != nil {
		t.Fatalf("expected nil catalogs for blank env, got %v / %v", cfg.ChatModels, cfg.ImageModels)
	}
}
