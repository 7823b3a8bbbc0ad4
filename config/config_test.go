package config

import (
	"testing"
)

func TestFillDefaults(t *testing.T) {
	c := defaultConfig()
	fillDefaults(c)

	if c.SyncSizeLimit != 400*1024 {
		t.Errorf("Expected 400KB sync limit, got %d", c.SyncSizeLimit)
	}
	if c.MaxUploadBytes != 25*1024*1024 {
		t.Errorf("Expected 25MB upload cap, got %d", c.MaxUploadBytes)
	}
	if c.SpeechLanguage != "ko-KR" {
		t.Errorf("Expected ko-KR, got %s", c.SpeechLanguage)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("SYNC_SIZE_LIMIT_BYTES", "1024")
	t.Setenv("CHAT_MODEL", "gpt-4o")

	c := defaultConfig()
	applyEnvOverrides(c)

	if c.APIKey != "test-key" {
		t.Errorf("Expected env API key, got %q", c.APIKey)
	}
	if c.SyncSizeLimit != 1024 {
		t.Errorf("Expected env sync limit 1024, got %d", c.SyncSizeLimit)
	}
	if c.ChatModel != "gpt-4o" {
		t.Errorf("Expected env chat model, got %q", c.ChatModel)
	}
}

func TestValidate(t *testing.T) {
	c := defaultConfig()
	fillDefaults(c)
	if err := c.Validate(); err == nil {
		t.Error("Expected validation to fail without an API key")
	}

	c.APIKey = "key"
	if err := c.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestHasValidAPI(t *testing.T) {
	c := defaultConfig()
	if c.HasValidAPI() {
		t.Error("Expected missing API key to be invalid")
	}
	c.APIKey = "  "
	if c.HasValidAPI() {
		t.Error("Expected blank API key to be invalid")
	}
	c.APIKey = "key"
	if !c.HasValidAPI() {
		t.Error("Expected key plus default base URL to be valid")
	}
}
