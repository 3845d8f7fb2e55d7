package modelregistry

import "testing"

func TestRegistry_FirstRegisteredBecomesDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(ProviderConfig{Name: "a", Kind: ProviderAnthropic}, false)
	r.Register(ProviderConfig{Name: "b", Kind: ProviderOpenAI}, false)

	def, err := r.GetDefault()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "a" {
		t.Errorf("expected first-registered provider to be default, got %q", def.Name)
	}
}

func TestRegistry_MarkDefaultOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(ProviderConfig{Name: "a", Kind: ProviderAnthropic}, false)
	r.Register(ProviderConfig{Name: "b", Kind: ProviderOpenAI}, true)

	def, err := r.GetDefault()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "b" {
		t.Errorf("expected explicitly marked default %q, got %q", "b", def.Name)
	}
}

func TestRegistry_GetDefault_NoneRegisteredErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetDefault()
	if err == nil {
		t.Fatal("expected error when no provider is registered")
	}
}

func TestRegistry_GetProvider_UnknownErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetProvider("ghost")
	if err == nil {
		t.Fatal("expected error for unknown provider name")
	}
}

func TestRegistry_ListProviders(t *testing.T) {
	r := NewRegistry()
	r.Register(ProviderConfig{Name: "a", Kind: ProviderAnthropic}, false)
	r.Register(ProviderConfig{Name: "b", Kind: ProviderOpenAI}, false)

	names := r.ListProviders()
	if len(names) != 2 {
		t.Errorf("expected 2 providers, got %d", len(names))
	}
}
