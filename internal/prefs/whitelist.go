package prefs

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nomor/memclear/internal/domain"
)

// Whitelist is the user-curated set of packages excluded from force stop.
// Stored as a sorted JSON array under KeyWhitelist.
type Whitelist struct {
	store domain.PreferencesStore
}

// NewWhitelist creates a Whitelist over store.
func NewWhitelist(store domain.PreferencesStore) *Whitelist {
	return &Whitelist{store: store}
}

// Add inserts packageID. Adding a present package is a no-op.
func (w *Whitelist) Add(packageID string) error {
	return w.update(func(set map[string]struct{}) {
		set[packageID] = struct{}{}
	})
}

// Remove deletes packageID. Removing a missing package is a no-op.
func (w *Whitelist) Remove(packageID string) error {
	return w.update(func(set map[string]struct{}) {
		delete(set, packageID)
	})
}

// Contains reports membership. A read failure counts as not whitelisted.
func (w *Whitelist) Contains(packageID string) bool {
	set, err := w.load()
	if err != nil {
		return false
	}
	_, ok := set[packageID]
	return ok
}

// List returns the whitelisted packages in sorted order.
func (w *Whitelist) List() ([]string, error) {
	set, err := w.load()
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

func (w *Whitelist) load() (map[string]struct{}, error) {
	raw, ok, err := w.store.Get(KeyWhitelist)
	if err != nil {
		return nil, err
	}
	return decodeSet(raw, ok)
}

// update applies mutate to the stored set in one store transaction, so
// concurrent edits from the CLI and the daemon's purge are not lost.
func (w *Whitelist) update(mutate func(set map[string]struct{})) error {
	return w.store.Update(KeyWhitelist, func(raw string, ok bool) (string, error) {
		set, err := decodeSet(raw, ok)
		if err != nil {
			return "", err
		}
		mutate(set)
		data, err := json.Marshal(sortedKeys(set))
		if err != nil {
			return "", fmt.Errorf("failed to encode whitelist: %w", err)
		}
		return string(data), nil
	})
}

func decodeSet(raw string, ok bool) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if !ok || raw == "" {
		return set, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist: %w", err)
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
