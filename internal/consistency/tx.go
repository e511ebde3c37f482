package consistency

import (
	"context"
	"fmt"
	"sort"
)

// Tx stages reads and writes for one transaction. It is only valid inside
// the TxFunc it was passed to and must not be shared across goroutines.
type Tx struct {
	store     Store
	resources []string
	staged    map[string]Write
	order     []string
}

// Resources returns the locked resources, sorted.
func (tx *Tx) Resources() []string {
	return append([]string(nil), tx.resources...)
}

// Get returns the value of key as seen by this transaction, including its
// own staged writes.
func (tx *Tx) Get(ctx context.Context, key string) (string, bool, error) {
	if w, ok := tx.staged[key]; ok {
		if w.Delete {
			return "", false, nil
		}
		return w.Value, true, nil
	}
	return tx.store.Read(ctx, key)
}

// Set stages a write. key must be one of the transaction's resources.
func (tx *Tx) Set(key, value string) error {
	return tx.stage(Write{Key: key, Value: value})
}

// Delete stages removal of key. key must be one of the transaction's resources.
func (tx *Tx) Delete(key string) error {
	return tx.stage(Write{Key: key, Delete: true})
}

func (tx *Tx) stage(w Write) error {
	i := sort.SearchStrings(tx.resources, w.Key)
	if i == len(tx.resources) || tx.resources[i] != w.Key {
		return fmt.Errorf("resource %q is not locked by this transaction", w.Key)
	}
	if _, ok := tx.staged[w.Key]; !ok {
		tx.order = append(tx.order, w.Key)
	}
	tx.staged[w.Key] = w
	return nil
}

func (tx *Tx) writes() []Write {
	out := make([]Write, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, tx.staged[k])
	}
	return out
}
