package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase           = "courier"
	DefaultMessagesCollection = "messages"
	DefaultRecordsCollection  = "delivery_records"
	DefaultTimeout            = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database           string
	messagesCollection string
	recordsCollection  string
	timeout            time.Duration
	logger             *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:           DefaultDatabase,
		messagesCollection: DefaultMessagesCollection,
		recordsCollection:  DefaultRecordsCollection,
		timeout:            DefaultTimeout,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithMessagesCollection sets the messages collection name.
func WithMessagesCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messagesCollection = name
		}
	}
}

// WithRecordsCollection sets the delivery records collection name.
func WithRecordsCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.recordsCollection = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
