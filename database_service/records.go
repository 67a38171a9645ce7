package database_service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Record names.
const (
	RecordStickyBindings = "sticky"
	RecordEntries        = "entries"
	RecordRosterBinding  = "roster"
)

// envelope wraps every record written by this bot. Payloads written before the
// envelope existed have no version field and decode as version 0.
type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Migrate turns a stored payload of an older (or the current) version into the
// current in-memory shape.
type Migrate[T any] func(version int, data []byte) (T, error)

// Load reads and decodes record name. found is false when nothing was stored.
func Load[T any](ctx context.Context, s Store, name string, migrate Migrate[T]) (v T, found bool, err error) {
	raw, err := s.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, false, nil
		}
		return v, false, fmt.Errorf("load %s: %w", name, err)
	}
	version, data := unwrap(raw)
	v, err = migrate(version, data)
	if err != nil {
		return v, true, fmt.Errorf("decode %s v%d: %w", name, version, err)
	}
	return v, true, nil
}

// Save encodes v under the current version and writes it.
func Save[T any](ctx context.Context, s Store, actor, name string, version int, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	payload, err := json.MarshalIndent(envelope{Version: version, Data: data}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.Put(ctx, actor, name, payload); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func unwrap(raw []byte) (int, []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return 0, trimmed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return 0, trimmed
	}
	rawVersion, hasVersion := fields["version"]
	data, hasData := fields["data"]
	if !hasVersion || !hasData || len(fields) != 2 {
		return 0, trimmed
	}
	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil || version < 1 {
		return 0, trimmed
	}
	return version, data
}
