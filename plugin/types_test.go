package plugin

import (
	"context"
	"testing"
)

// mockPlugin is a simple mock implementation of the Plugin interface for testing.
type mockPlugin struct {
	metadata Metadata
}

func (m *mockPlugin) Metadata() Metadata {
	return m.metadata
}

func (m *mockPlugin) Initialize(ctx context.Context) error {
	return nil
}

func (m *mockPlugin) Shutdown(ctx context.Context) error {
	return nil
}

func (m *mockPlugin) Install(ctx context.Context, version string, opts InstallOptions) (string, error) {
	return version, nil
}

func (m *mockPlugin) Uninstall(ctx context.Context, version string) error {
	return nil
}

func TestMockPlugin_ImplementsInterface(t *testing.T) {
	var _ Plugin = &mockPlugin{}
}

func TestToDescriptor(t *testing.T) {
	m := &mockPlugin{metadata: Metadata{
		Name:        "kubectl",
		Version:     "1.2.3",
		Description: "kubectl version manager",
		Author:      "infra",
		Tags:        []string{"kubernetes"},
	}}

	d := ToDescriptor(m)
	if d.Name != "kubectl" {
		t.Errorf("expected name 'kubectl', got %s", d.Name)
	}
	if d.Version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got %s", d.Version)
	}
	if d.Description != "kubectl version manager" {
		t.Errorf("unexpected description: %s", d.Description)
	}
	if d.Author != "infra" {
		t.Errorf("unexpected author: %s", d.Author)
	}
}
