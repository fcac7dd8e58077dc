package ai

import "testing"

func TestCreateProviderUnknown(t *testing.T) {
	factory := NewFactory()
	if provider := factory.CreateProvider(&ProviderConfig{ProviderName: "mystery"}); provider != nil {
		t.Fatalf("unknown provider name must yield nil")
	}
}

func TestCreateProviderCachesInstances(t *testing.T) {
	factory := NewFactory()
	config := &ProviderConfig{ProviderName: "claude", ModelName: "claude-sonnet-4-5", APIKey: "sk-test"}
	first := factory.CreateProvider(config)
	if first == nil {
		t.Fatalf("expected a provider instance")
	}
	second := factory.CreateProvider(config)
	if first != second {
		t.Fatalf("same configuration must reuse the cached instance")
	}

	other := factory.CreateProvider(&ProviderConfig{ProviderName: "claude", ModelName: "claude-haiku-4-5", APIKey: "sk-test"})
	if other == first {
		t.Fatalf("different model must get its own instance")
	}
}

func TestCreateProviderNameAliases(t *testing.T) {
	factory := NewFactory()
	for _, name := range []string{"claude", "Anthropic", "openai", "azure_openai", "gemini", "cohere"} {
		if provider := factory.CreateProvider(&ProviderConfig{ProviderName: name, ModelName: "m", APIKey: "k"}); provider == nil {
			t.Fatalf("expected provider for alias %q", name)
		}
	}
}
