package modelinfo

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		url      string
		provider string
		local    bool
		wantName string
	}{
		{"defaults", "", "", ProviderOpenAI, false, "gpt-4o-mini"},
		{"explicit openai", "gpt-4o", "https://api.openai.com/v1", ProviderOpenAI, false, "gpt-4o"},
		{"ollama by port", "llama2", "http://localhost:11434/v1", ProviderOllama, true, "llama2"},
		{"ollama by hostname", "mistral", "http://ollama.lan:8080/v1", ProviderOllama, true, "mistral"},
		{"ollama by tag", "llama3:latest", "", ProviderOllama, true, "llama3:latest"},
		{"other loopback", "qwen", "http://127.0.0.1:8000/v1", ProviderLocal, true, "qwen"},
		{"remote compatible", "mixtral", "https://llm.example.com/v1", ProviderCompatible, false, "mixtral"},
		{"fine tuned openai", "ft:gpt-4o-mini:acme::abc123", "", ProviderOpenAI, false, "ft:gpt-4o-mini:acme::abc123"},
		{"trailing colon", "odd:", "", ProviderOpenAI, false, "odd:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Detect(tt.model, tt.url, false)
			if info.ModelProvider != tt.provider {
				t.Errorf("provider = %q, want %q", info.ModelProvider, tt.provider)
			}
			if info.IsLocal != tt.local {
				t.Errorf("is_local = %v, want %v", info.IsLocal, tt.local)
			}
			if info.ModelName != tt.wantName {
				t.Errorf("model_name = %q, want %q", info.ModelName, tt.wantName)
			}
		})
	}
}

func TestDetectReportsKeyAndURL(t *testing.T) {
	info := Detect("gpt-4o", "https://api.openai.com/v1", true)
	if !info.HasAPIKey {
		t.Error("expected has_api_key")
	}
	if info.APIURL != "https://api.openai.com/v1" {
		t.Errorf("api_url = %q", info.APIURL)
	}
}

func TestIsLocal(t *testing.T) {
	if IsLocal("", "") {
		t.Error("default config is remote")
	}
	if !IsLocal("llama3:8b", "") {
		t.Error("tagged model is local")
	}
}
