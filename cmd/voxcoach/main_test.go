package main

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxcoach/internal/coach"
	"github.com/MrWong99/voxcoach/internal/config"
	"github.com/MrWong99/voxcoach/internal/store"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	s2smock "github.com/MrWong99/voxcoach/pkg/provider/s2s/mock"
)

func TestBuildProvider_FailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := &s2smock.Provider{ConnectErr: errors.New("dial refused")}
	backup := &s2smock.Provider{}

	reg := config.NewRegistry()
	reg.RegisterS2S("primary", func(config.ProviderEntry) (s2s.Provider, error) { return primary, nil })
	reg.RegisterS2S("backup", func(config.ProviderEntry) (s2s.Provider, error) { return backup, nil })

	cfg := &config.Config{
		Provider: config.ProviderEntry{Name: "primary"},
		Fallbacks: []config.ProviderEntry{
			{Name: "not-registered"},
			{Name: "backup"},
		},
	}
	p, err := buildProvider(cfg, reg, nil)
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	if states := p.BreakerStates(); len(states) != 2 {
		t.Fatalf("breakers: got %v, want primary and backup only", states)
	}

	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()
	if primary.ConnectCount() != 1 || backup.ConnectCount() != 1 {
		t.Errorf("connect calls: primary=%d backup=%d, want 1 each", primary.ConnectCount(), backup.ConnectCount())
	}
	if handle != backup.Last() {
		t.Error("handle was not served by the fallback")
	}
}

func TestBuildProvider_UnregisteredPrimary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Provider: config.ProviderEntry{Name: "nope"}}
	_, err := buildProvider(cfg, config.NewRegistry(), nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("buildProvider: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for _, name := range []string{"gemini-live", "gemini-genai", "openai-realtime"} {
		p, err := reg.CreateS2S(config.ProviderEntry{Name: name, APIKey: "test", Model: "m"})
		if err != nil {
			t.Errorf("CreateS2S(%q): %v", name, err)
			continue
		}
		if p.Capabilities().Formats.Input.SampleRate == 0 {
			t.Errorf("%s: no input format", name)
		}
	}
}

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	st, err := openStore(context.Background(), config.StorageConfig{Backend: config.StorageMemory})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if _, ok := st.(*store.MemStore); !ok {
		t.Errorf("store: got %T, want *store.MemStore", st)
	}
}

func TestPrintHistory_UnknownList(t *testing.T) {
	t.Parallel()

	err := printHistory(context.Background(), store.NewMemStore(), "lessons")
	if err == nil {
		t.Fatal("printHistory: want error for unknown list")
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"project": "p1", "port": 5432}
	if got := optString(opts, "project"); got != "p1" {
		t.Errorf("project: got %q", got)
	}
	if got := optString(opts, "port"); got != "" {
		t.Errorf("non-string: got %q", got)
	}
	if got := optString(nil, "project"); got != "" {
		t.Errorf("nil map: got %q", got)
	}
}

func TestRunSession_ResumeUnknownID(t *testing.T) {
	t.Parallel()

	rec := coach.NewRecorder(store.NewMemStore())
	err := runSession(context.Background(), nil, rec, config.SessionConfig{}, "no-such-session")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("runSession: got %v, want ErrNotFound", err)
	}
}
