package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/open-chat-labs/open-chat-sub002/internal/chat"
	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
	cfgpkg "github.com/open-chat-labs/open-chat-sub002/internal/config"
	"github.com/open-chat-labs/open-chat-sub002/internal/registry"
	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

// ErrChatNotFound is returned when opening an unregistered chat.
var ErrChatNotFound = errors.New("runtime: chat not found")

// Options for building the Runtime.
type Options struct {
	DataDir string
	Config  cfgpkg.Config
	Metrics pebblestore.MetricsHook
	Logger  zerolog.Logger
}

// Runtime wires storage, config, the chat registry, and open chat aggregates
// for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	store  *chatlog.Store
	config cfgpkg.Config
	logger zerolog.Logger

	mu    sync.Mutex
	chats map[uuid.UUID]*chat.Chat
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	fsync, err := fsyncMode(opts.Config.Fsync)
	if err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: fsync, Metrics: opts.Metrics})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:     db,
		store:  chatlog.NewStore(db),
		config: opts.Config,
		logger: opts.Logger,
		chats:  map[uuid.UUID]*chat.Chat{},
	}, nil
}

func fsyncMode(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return 0, fmt.Errorf("runtime: unknown fsync mode %q", s)
	}
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// CreateChat registers a chat and seeds its log. Idempotent per chat id.
func (r *Runtime) CreateChat(ctx context.Context, id uuid.UUID, name, description string, createdBy uuid.UUID, historyVisible *bool, nowMs int64) (*chat.Chat, error) {
	visible := r.config.HistoryVisibleDefault
	if historyVisible != nil {
		visible = *historyVisible
	}
	meta, err := registry.EnsureChat(r.db, registry.Meta{
		ID:             id,
		Name:           name,
		Description:    description,
		CreatedBy:      createdBy,
		CreatedAtMs:    nowMs,
		HistoryVisible: visible,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[id]; ok {
		return c, nil
	}
	c, err := chat.Create(ctx, r.store, id, meta.Name, meta.Description, meta.CreatedBy, meta.CreatedAtMs, r.chatOptions(meta))
	if err != nil {
		return nil, err
	}
	r.chats[id] = c
	return c, nil
}

// OpenChat returns the aggregate for a registered chat, opening it on first
// use. Aggregates are cached so one process owns each chat's mutations.
func (r *Runtime) OpenChat(id uuid.UUID) (*chat.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[id]; ok {
		return c, nil
	}
	meta, ok, err := registry.Lookup(r.db, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChatNotFound
	}
	c, err := chat.Open(r.store, id, r.chatOptions(meta))
	if err != nil {
		return nil, err
	}
	r.chats[id] = c
	return c, nil
}

// ListChats returns all registered chats.
func (r *Runtime) ListChats() ([]registry.Meta, error) {
	return registry.List(r.db)
}

func (r *Runtime) chatOptions(meta registry.Meta) chat.Options {
	return chat.Options{
		Permissions:                meta.Permissions,
		HistoryVisibleToNewJoiners: meta.HistoryVisible,
		Limits: chat.Limits{
			TextMaxChars:   r.config.Limits.TextMaxChars,
			PollMaxOptions: r.config.Limits.PollMaxOptions,
		},
		LogOptions: chatlog.LogOptions{
			IterMinBuffer: r.config.Log.IterMinBuffer,
			IterMaxBuffer: r.config.Log.IterMaxBuffer,
		},
		Logger: r.logger,
	}
}

// Store exposes the event log store for migration tooling.
func (r *Runtime) Store() *chatlog.Store { return r.store }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
