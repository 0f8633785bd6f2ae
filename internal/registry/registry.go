// Package registry tracks which chats exist in this store and their
// creation-time settings. Per-chat state (events, members) lives in the chat
// keyspace; the registry holds only the meta record.
package registry

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub002/internal/chat"
	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

// Meta holds a chat's registration record. Permissions, when set, overrides
// the default matrix for the whole chat.
type Meta struct {
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	CreatedBy      uuid.UUID         `json:"created_by"`
	CreatedAtMs    int64             `json:"createdAtMs"`
	HistoryVisible bool              `json:"historyVisible"`
	Permissions    *chat.Permissions `json:"permissions,omitempty"`
}

const tagChatMeta = 0x30

func metaKey(id uuid.UUID) []byte {
	k := make([]byte, 0, 1+16)
	k = append(k, tagChatMeta)
	k = append(k, id[:]...)
	return k
}

// EnsureChat creates a chat meta record if absent, returning the effective
// meta. Idempotent: returns the existing record if already present.
func EnsureChat(db *pebblestore.DB, want Meta) (Meta, error) {
	key := metaKey(want.ID)
	if b, ok, err := db.GetMaybe(key); err != nil {
		return Meta{}, err
	} else if ok {
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return Meta{}, fmt.Errorf("registry: meta record for %s: %w", want.ID, err)
		}
		return m, nil
	}
	bytes, err := json.Marshal(want)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, bytes); err != nil {
		return Meta{}, err
	}
	return want, nil
}

// Lookup returns the meta record for a chat, if registered.
func Lookup(db *pebblestore.DB, id uuid.UUID) (Meta, bool, error) {
	b, ok, err := db.GetMaybe(metaKey(id))
	if err != nil || !ok {
		return Meta{}, false, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false, fmt.Errorf("registry: meta record for %s: %w", id, err)
	}
	return m, true, nil
}

// List returns all registered chats in id order.
func List(db *pebblestore.DB) ([]Meta, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{tagChatMeta},
		UpperBound: []byte{tagChatMeta + 1},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Meta
	for ok := iter.First(); ok; ok = iter.Next() {
		var m Meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("registry: meta record at %x: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	return out, nil
}
