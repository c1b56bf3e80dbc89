package snapshot

import (
	"go.uber.org/zap"
)

// Slot is a typed view of one Local key.
//
// Every failure is logged and swallowed: a store that cannot be read or a
// value that cannot be decoded reads as an empty snapshot, and a failed
// write leaves the in-memory state authoritative for the session.
type Slot[T any] struct {
	local Local
	key   string
	codec Codec[T]
	lg    *zap.Logger
}

// NewSlot returns a Slot bound to key in local.
func NewSlot[T any](local Local, key string, codec Codec[T], lg *zap.Logger) *Slot[T] {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Slot[T]{
		local: local,
		key:   key,
		codec: codec,
		lg:    lg.With(zap.String("local_key", key)),
	}
}

// Key returns the store key this slot reads and writes.
func (s *Slot[T]) Key() string { return s.key }

// Load returns the stored snapshot, or nil when the key is absent, the store
// fails, or the stored value is corrupted.
func (s *Slot[T]) Load() []T {
	raw, ok, err := s.local.Read(s.key)
	if err != nil {
		s.lg.Warn("Local snapshot read failed, starting empty", zap.Error(err))
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	items, err := s.codec.Decode([]byte(raw))
	if err != nil {
		s.lg.Warn("Local snapshot corrupted, starting empty", zap.Error(err))
		return nil
	}
	return items
}

// Save overwrites the stored snapshot. It reports whether the write landed.
func (s *Slot[T]) Save(items []T) bool {
	data, err := s.codec.Encode(items)
	if err != nil {
		s.lg.Error("Encode local snapshot", zap.Error(err))
		return false
	}
	if err := s.local.Write(s.key, string(data)); err != nil {
		s.lg.Warn("Local snapshot write failed", zap.Error(err))
		return false
	}
	return true
}

// Clear removes the key entirely.
func (s *Slot[T]) Clear() bool {
	if err := s.local.Remove(s.key); err != nil {
		s.lg.Warn("Local snapshot remove failed", zap.Error(err))
		return false
	}
	return true
}
