package courier

import (
	"context"
	"errors"
	"log/slog"
)

// Plugin defines the interface for courier extensions.
// Plugins can hook into message sending to add custom behavior such as
// spam filtering, rate limiting, or content policy checks.
//
// For observing other operations (read, delete), use the event system
// instead (MessageRead, RecordDeleted).
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when the service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when the service closes.
	Close(ctx context.Context) error
}

// SendHook is called around message fanout.
// This is the primary extension point for send validation and filtering.
type SendHook interface {
	Plugin
	// BeforeSend is called after request validation and before the message
	// is created. Return an error to abort the send.
	BeforeSend(ctx context.Context, userID string, req *SendRequest) error
	// AfterSend is called after a message is successfully delivered.
	// The message already exists and cannot be rolled back; an error here
	// surfaces to the caller alongside the successful result.
	AfterSend(ctx context.Context, userID string, result *SendResult) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all    []Plugin
	send   []SendHook
	logger *slog.Logger
}

func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(SendHook); ok {
		r.send = append(r.send, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func (r *pluginRegistry) beforeSend(ctx context.Context, userID string, req *SendRequest) error {
	for _, h := range r.send {
		if err := h.BeforeSend(ctx, userID, req); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterSend(ctx context.Context, userID string, result *SendResult) error {
	for _, h := range r.send {
		if err := h.AfterSend(ctx, userID, result); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterSend", Err: err}
		}
	}
	return nil
}
