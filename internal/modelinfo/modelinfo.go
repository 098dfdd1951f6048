// Package modelinfo describes the language model autodash is configured
// to translate with.
package modelinfo

import (
	"net"
	"net/url"
	"strings"
)

// DefaultModel is reported when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Providers.
const (
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
	ProviderLocal      = "local"
	ProviderCompatible = "openai-compatible"
)

// ollamaPort is the port Ollama serves its OpenAI compatible API on.
const ollamaPort = "11434"

// Info is the payload of GET /model-info.
type Info struct {
	ModelName     string `json:"model_name"`
	ModelProvider string `json:"model_provider"`
	IsLocal       bool   `json:"is_local"`
	APIURL        string `json:"api_url,omitempty"`
	HasAPIKey     bool   `json:"has_api_key"`
}

// Detect classifies a model configuration.
//
// Ollama is recognised by a URL that mentions ollama or its port, or by a
// model name carrying a ":tag" such as "llama3:latest". Other loopback URLs
// are reported as a generic local provider. Anything else is remote.
func Detect(model, apiURL string, hasAPIKey bool) Info {
	if model == "" {
		model = DefaultModel
	}
	info := Info{
		ModelName:     model,
		ModelProvider: ProviderOpenAI,
		APIURL:        apiURL,
		HasAPIKey:     hasAPIKey,
	}

	host, port := splitURL(apiURL)
	switch {
	case strings.Contains(strings.ToLower(apiURL), "ollama") || port == ollamaPort:
		info.ModelProvider = ProviderOllama
		info.IsLocal = true
	case apiURL != "" && isLoopback(host):
		info.ModelProvider = ProviderLocal
		info.IsLocal = true
	case apiURL != "" && host != "api.openai.com":
		info.ModelProvider = ProviderCompatible
	case hasTag(model):
		info.ModelProvider = ProviderOllama
		info.IsLocal = true
	}
	return info
}

// IsLocal reports whether the configuration points at a locally hosted
// model, which does not need an API key.
func IsLocal(model, apiURL string) bool {
	return Detect(model, apiURL, false).IsLocal
}

func splitURL(raw string) (host, port string) {
	if raw == "" {
		return "", ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ""
	}
	return strings.ToLower(u.Hostname()), u.Port()
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "0.0.0.0", "host.docker.internal":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// hasTag reports whether name looks like "model:tag". Fine-tuned OpenAI
// models ("ft:gpt-4o-mini:org::id") also contain colons and are excluded.
func hasTag(name string) bool {
	if strings.HasPrefix(name, "ft:") {
		return false
	}
	i := strings.LastIndex(name, ":")
	return i > 0 && i < len(name)-1
}
