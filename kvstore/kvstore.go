// Package kvstore defines the shared wire format and the uniform
// set(key,value) / delete(key) / get(key) interface that every storage
// engine in this module implements.
package kvstore

import (
	"strings"

	"logkv/kverrors"
)

// Delimiter separates a key from its value in a line-file record.
const Delimiter = ","

// Tombstone is the reserved value literal that encodes Deleted on disk.
// It is a single UTF-8 code point (the graveyard emoji, U+1FAA6) chosen
// precisely because it is not a word a real value would ever equal.
const Tombstone = "\U0001FAA6"

// Kind classifies the status of a key within a single tier (a segment, a
// memtable, ...).
type Kind uint8

const (
	// Absent means this tier has no opinion; the caller should consult
	// the next tier.
	Absent Kind = iota
	// Present means the key maps to Value in this tier.
	Present
	// Deleted means this tier holds an explicit tombstone for the key.
	Deleted
)

// Status is the status of a key within one tier: Present(value), Deleted,
// or Absent.
type Status struct {
	Kind  Kind
	Value string
}

// PresentStatus builds a Status carrying a value.
func PresentStatus(value string) Status { return Status{Kind: Present, Value: value} }

// DeletedStatus is the tombstone status.
var DeletedStatus = Status{Kind: Deleted}

// AbsentStatus is the "no opinion" status.
var AbsentStatus = Status{Kind: Absent}

// IsPresent reports whether the status carries a live value.
func (s Status) IsPresent() bool { return s.Kind == Present }

// IsDeleted reports whether the status is an explicit tombstone.
func (s Status) IsDeleted() bool { return s.Kind == Deleted }

// IsAbsent reports whether this tier has no opinion on the key.
func (s Status) IsAbsent() bool { return s.Kind == Absent }

// ValidateKey enforces the data-model constraints on a key: non-empty,
// must not contain the record delimiter, must not equal the tombstone.
func ValidateKey(key string) error {
	if key == "" {
		return kverrors.InvalidInput("key must not be empty")
	}
	if strings.Contains(key, Delimiter) {
		return kverrors.InvalidInput("key must not contain the delimiter %q", Delimiter)
	}
	if strings.Contains(key, "\n") {
		return kverrors.InvalidInput("key must not contain a newline")
	}
	if key == Tombstone {
		return kverrors.InvalidInput("key must not equal the tombstone literal")
	}
	return nil
}

// ValidateValue enforces the data-model constraints on a value: must not
// equal the tombstone literal, must not contain a newline.
func ValidateValue(value string) error {
	if value == Tombstone {
		return kverrors.InvalidInput("value must not equal the tombstone literal")
	}
	if strings.Contains(value, "\n") {
		return kverrors.InvalidInput("value must not contain a newline")
	}
	return nil
}

// Engine is the uniform interface every storage engine in this module
// implements: LogDb, LogWithIndexDb, SegmentedLogDb and SSTable.
type Engine interface {
	// Set stores value under key, overwriting any prior value.
	Set(key, value string) error
	// Delete marks key as deleted. Idempotent.
	Delete(key string) error
	// Get returns the current value for key, or ("", false) if absent or
	// deleted.
	Get(key string) (string, bool, error)
	// Description returns a human-readable engine label.
	Description() string
	// Close joins any in-flight background worker and releases owned
	// resources.
	Close() error
}
