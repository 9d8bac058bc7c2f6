package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"codecast/collabd/internal/operation"
	"codecast/collabd/pkg/logger"
)

// AppendOperation writes one operation and the refreshed session record in
// a single atomic batch, so the log and the derived buffer snapshot can
// never diverge on disk. Callers serialize appends per session; the store
// itself does no sequencing.
func (s *Store) AppendOperation(rec SessionRecord, op operation.Operation) error {
	opData, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}
	rec.UpdatedTS = time.Now().UTC().UnixNano()
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	batch := s.db.NewBatch()
	if err := batch.Set(opKey(op.SessionID, op.Seq), opData, nil); err != nil {
		return err
	}
	if err := batch.Set(sessionKey(rec.ID), recData, nil); err != nil {
		return err
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("append_operation_failed", "session", op.SessionID, "seq", op.Seq, "error", err)
		return err
	}
	logger.Debug("operation_appended", "session", op.SessionID, "seq", op.Seq, "kind", op.Kind)
	return nil
}

// OperationsSince returns every logged operation with sequence number
// strictly greater than after, in ascending order.
func (s *Store) OperationsSince(sessionID string, after uint64) ([]operation.Operation, error) {
	prefix := opPrefix(sessionID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []operation.Operation
	start := opKey(sessionID, after+1)
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var op operation.Operation
		if err := json.Unmarshal(iter.Value(), &op); err != nil {
			return nil, fmt.Errorf("corrupt operation at %s: %w", iter.Key(), err)
		}
		out = append(out, op)
	}
	return out, iter.Error()
}

// MaxSeq scans a session's log and returns the largest sequence number,
// zero when the log is empty. Used to recover the sequence counter when a
// session is loaded.
func (s *Store) MaxSeq(sessionID string) (uint64, error) {
	prefix := opPrefix(sessionID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var max uint64
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		seq, perr := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
		if perr != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, iter.Error()
}
