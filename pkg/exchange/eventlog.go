package exchange

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/escrowdex/pkg/storage"
)

// LogEntry is an event as persisted in the append-only event log.
// Hash chains every entry to its predecessor: a rewritten or dropped entry
// breaks VerifyEventLog.
type LogEntry struct {
	Seq      uint64            `json:"seq"` // from 1
	Event    string            `json:"event"`
	Args     map[string]string `json:"args"`
	PrevHash common.Hash       `json:"prevHash"`
	Hash     common.Hash       `json:"hash"`
}

// hashEntry = keccak256(prevHash || seq || event || sorted (key, value) pairs)
func hashEntry(prev common.Hash, seq uint64, event string, args map[string]string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(prev[:])
	h.Write(storage.EncodeUint64(seq))
	h.Write([]byte(event))

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(args[k]))
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

// appendLog stages one log entry per event and advances the chain head
func appendLog(tx *txn, events []Event) ([]LogEntry, error) {
	if len(events) == 0 {
		return nil, nil
	}

	seqBytes, _, err := tx.get(keyLogSeq)
	if err != nil {
		return nil, err
	}
	headBytes, _, err := tx.get(keyLogHead)
	if err != nil {
		return nil, err
	}
	seq := storage.DecodeUint64(seqBytes)
	head := common.BytesToHash(headBytes)

	entries := make([]LogEntry, 0, len(events))
	for _, ev := range events {
		seq++
		args := ev.Args()
		entry := LogEntry{
			Seq:      seq,
			Event:    ev.Name(),
			Args:     args,
			PrevHash: head,
			Hash:     hashEntry(head, seq, ev.Name(), args),
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("marshal log entry: %w", err)
		}
		if err := tx.set(logKey(seq), data); err != nil {
			return nil, err
		}
		head = entry.Hash
		entries = append(entries, entry)
	}

	if err := tx.set(keyLogSeq, storage.EncodeUint64(seq)); err != nil {
		return nil, err
	}
	if err := tx.set(keyLogHead, head[:]); err != nil {
		return nil, err
	}
	return entries, nil
}

// Events returns up to limit log entries starting at sequence number from.
// limit <= 0 means no limit.
func (e *Exchange) Events(from uint64, limit int) ([]LogEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if from == 0 {
		from = 1
	}
	prefix := []byte(prefixLog)

	var (
		entries []LogEntry
		decErr  error
	)
	err := e.kv.Scan(logKey(from), storage.PrefixEnd(prefix), func(_, value []byte) bool {
		var entry LogEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			decErr = fmt.Errorf("decode log entry: %w", err)
			return false
		}
		entries = append(entries, entry)
		return limit <= 0 || len(entries) < limit
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}
	return entries, nil
}

// VerifyEventLog walks the whole log and checks sequence numbers and the
// hash chain up to the recorded head
func (e *Exchange) VerifyEventLog() error {
	entries, err := e.Events(1, 0)
	if err != nil {
		return err
	}

	var prev common.Hash
	for i, entry := range entries {
		if want := uint64(i + 1); entry.Seq != want {
			return fmt.Errorf("event log gap: got seq %d, want %d", entry.Seq, want)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("event log seq %d: prevHash mismatch", entry.Seq)
		}
		if got := hashEntry(prev, entry.Seq, entry.Event, entry.Args); got != entry.Hash {
			return fmt.Errorf("event log seq %d: hash mismatch", entry.Seq)
		}
		prev = entry.Hash
	}

	e.mu.Lock()
	headBytes, _, err := e.kv.Get(keyLogHead)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if common.BytesToHash(headBytes) != prev {
		return fmt.Errorf("event log head does not match last entry")
	}
	return nil
}
