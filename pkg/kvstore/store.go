// Package kvstore provides the key-value persistence collaborator for the
// review engine. Keys follow the conventions evidence_{id}, transfer_{id}
// and audit_{id}.
//
// No backend offers transactions. The engine serializes its own writers, but
// a concurrent writer outside the engine can still clobber updates; that is
// a documented limitation of the upstream contract, not something the store
// papers over.
package kvstore

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when the key has no value.
var ErrKeyNotFound = errors.New("key not found")

// KV is one key-value pair returned by a prefix scan.
type KV struct {
	Key   string
	Value []byte
}

// Store is the persistence contract the review engine depends on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)
	Delete(ctx context.Context, key string) error
}

// Key prefixes for the record families the engine persists.
const (
	EvidencePrefix = "evidence_"
	TransferPrefix = "transfer_"
	AuditPrefix    = "audit_"
)
