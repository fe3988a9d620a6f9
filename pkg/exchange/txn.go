package exchange

import (
	"github.com/uhyunpark/escrowdex/pkg/storage"
)

type staged struct {
	value   []byte
	deleted bool
}

// txn overlays staged writes on top of the KV so a call can read its own
// writes before anything is committed. It remembers the value each key had
// before the call so a committed txn can be reverted.
type txn struct {
	kv    storage.KV
	dirty map[string]staged
	prior map[string]staged
	order []string
}

func newTxn(kv storage.KV) *txn {
	return &txn{
		kv:    kv,
		dirty: make(map[string]staged),
		prior: make(map[string]staged),
	}
}

func (t *txn) get(key []byte) ([]byte, bool, error) {
	if s, ok := t.dirty[string(key)]; ok {
		if s.deleted {
			return nil, false, nil
		}
		return s.value, true, nil
	}
	return t.kv.Get(key)
}

func (t *txn) set(key, value []byte) error {
	return t.stage(key, staged{value: value})
}

func (t *txn) stage(key []byte, s staged) error {
	k := string(key)
	if _, seen := t.prior[k]; !seen {
		old, ok, err := t.kv.Get(key)
		if err != nil {
			return err
		}
		t.prior[k] = staged{value: old, deleted: !ok}
		t.order = append(t.order, k)
	}
	t.dirty[k] = s
	return nil
}

// writes returns the staged mutations in first-touch order
func (t *txn) writes() []storage.Write {
	out := make([]storage.Write, 0, len(t.order))
	for _, k := range t.order {
		s := t.dirty[k]
		if s.deleted {
			out = append(out, storage.Del([]byte(k)))
		} else {
			out = append(out, storage.Put([]byte(k), s.value))
		}
	}
	return out
}

// undo returns the writes that restore every touched key to its prior value
func (t *txn) undo() []storage.Write {
	out := make([]storage.Write, 0, len(t.order))
	for _, k := range t.order {
		p := t.prior[k]
		if p.deleted {
			out = append(out, storage.Del([]byte(k)))
		} else {
			out = append(out, storage.Put([]byte(k), p.value))
		}
	}
	return out
}
