package connector

import (
	"context"
	"sync"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
)

// Factory builds a configured connector for a channel. The configuration is
// resolved to the concrete per-channel type at construction time, never
// inspected at call time.
type Factory func(config interface{}, log logger.Logger) (Connector, error)

// Registry maps channel names to connector factories and caches the built
// instances.
type Registry struct {
	factories map[string]Factory
	configs   map[string]interface{}
	instances map[string]Connector
	logger    logger.Logger
	mu        sync.RWMutex
}

// NewRegistry creates an empty connector registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard
	}
	return &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]interface{}),
		instances: make(map[string]Connector),
		logger:    log,
	}
}

// RegisterFactory registers a connector factory for a channel name.
func (r *Registry) RegisterFactory(channel string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[channel]; exists {
		return errors.Newf(errors.ErrInvalidConfig, "connector for channel %s already registered", channel)
	}

	r.factories[channel] = factory
	r.logger.Debug("Connector factory registered", "channel", channel)
	return nil
}

// SetConfig sets the configuration for a channel. Any cached instance is
// dropped so the next Get rebuilds with the new configuration.
func (r *Registry) SetConfig(channel string, config interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[channel] = config
	delete(r.instances, channel)
}

// Get returns the configured connector for a channel, building it on first
// use. An unregistered or unconfigured channel is a configuration error
// scoped to that channel.
func (r *Registry) Get(channel string) (Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if instance, exists := r.instances[channel]; exists {
		return instance, nil
	}

	factory, exists := r.factories[channel]
	if !exists {
		return nil, errors.Newf(errors.ErrUnknownChannel, "no connector registered for channel %s", channel).WithChannel(channel)
	}

	config, exists := r.configs[channel]
	if !exists {
		return nil, errors.Newf(errors.ErrInvalidConfig, "no configuration for channel %s", channel).WithChannel(channel)
	}

	instance, err := factory(config, r.logger)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInvalidConfig, "build connector for channel %s", channel).WithChannel(channel)
	}

	r.instances[channel] = instance
	r.logger.Info("Connector instance created", "channel", channel)
	return instance, nil
}

// Channels returns the registered channel names.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.factories))
	for name := range r.factories {
		channels = append(channels, name)
	}
	return channels
}

// Close disconnects every cached connector instance.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for channel, instance := range r.instances {
		if err := instance.Disconnect(context.Background()); err != nil {
			r.logger.Error("Failed to disconnect connector", "channel", channel, "error", err)
			lastErr = err
		}
	}
	r.instances = make(map[string]Connector)
	return lastErr
}
