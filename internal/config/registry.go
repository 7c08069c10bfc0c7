package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxreel/internal/settings"
	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// StoreFactory opens a settings store for the settings section.
type StoreFactory func(ctx context.Context, cfg SettingsConfig) (settings.Store, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	stt         map[string]func(ProviderEntry) (stt.Provider, error)
	transcriber map[string]func(ProviderEntry) (stt.Transcriber, error)
	vad         map[string]func(ProviderEntry) (vad.Engine, error)
	audio       map[string]func(ProviderEntry) (audio.Device, error)
	stores      map[SettingsBackend]StoreFactory
}

// NewRegistry returns a [Registry] with only the in-memory settings store
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		stt:         make(map[string]func(ProviderEntry) (stt.Provider, error)),
		transcriber: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Engine, error)),
		audio:       make(map[string]func(ProviderEntry) (audio.Device, error)),
		stores:      make(map[SettingsBackend]StoreFactory),
	}
	r.stores[SettingsMemory] = func(context.Context, SettingsConfig) (settings.Store, error) {
		return settings.NewMemStore(), nil
	}
	return r
}

// RegisterSTT registers a streaming STT engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTranscriber registers a clip transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterAudio registers a capture device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterStore registers a settings store factory for backend.
func (r *Registry) RegisterStore(backend SettingsBackend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[backend] = factory
}

// CreateSTT instantiates a streaming engine using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTranscriber instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.transcriber, "transcriber", entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, "vad", entry)
}

// CreateAudio instantiates a capture device using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Device, error) {
	return create(r, r.audio, "audio", entry)
}

// CreateStore opens the settings store for cfg.Backend.
func (r *Registry) CreateStore(ctx context.Context, cfg SettingsConfig) (settings.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: settings/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
