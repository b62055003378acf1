// Package audit implements the append-only decision trail. Every review
// decision and transfer escalation appends exactly one entry; entries are
// never edited or removed. Each entry carries a sha256 content hash over its
// RFC 8785 canonical JSON form so exported trails can be compared
// byte-for-byte across stores.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/transferdesk/transferdesk/pkg/contracts"
	"github.com/transferdesk/transferdesk/pkg/kvstore"
)

// Trail stores audit entries through the key-value collaborator under
// audit_{id} keys.
type Trail struct {
	store kvstore.Store
}

// NewTrail creates a trail over the given store.
func NewTrail(store kvstore.Store) *Trail {
	return &Trail{store: store}
}

// Append assigns the entry an id and content hash and persists it. The
// caller's entry is not mutated; the stored entry is returned.
func (t *Trail) Append(ctx context.Context, entry contracts.AuditEntry) (*contracts.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	hash, err := contentHash(entry)
	if err != nil {
		return nil, fmt.Errorf("hash audit entry: %w", err)
	}
	entry.ContentHash = hash

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode audit entry: %w", err)
	}
	if err := t.store.Set(ctx, kvstore.AuditPrefix+entry.ID, data); err != nil {
		return nil, fmt.Errorf("persist audit entry: %w", err)
	}
	return &entry, nil
}

// ListByRequirement returns all entries for one requirement, newest first by
// performedAt. An unknown requirement yields an empty slice, not an error.
func (t *Trail) ListByRequirement(ctx context.Context, requirementID contracts.RequirementID) ([]contracts.AuditEntry, error) {
	return t.list(ctx, func(e *contracts.AuditEntry) bool {
		return e.RequirementID == requirementID
	})
}

// ListByTransfer returns entries whose requirement id belongs to the given
// set, or that were recorded against the transfer id itself (transfer-level
// escalations on transfers with no requirements). Newest first.
func (t *Trail) ListByTransfer(ctx context.Context, transferID contracts.TransferID, requirementIDs []contracts.RequirementID) ([]contracts.AuditEntry, error) {
	members := make(map[contracts.RequirementID]bool, len(requirementIDs)+1)
	for _, id := range requirementIDs {
		members[id] = true
	}
	members[contracts.RequirementID(transferID)] = true

	return t.list(ctx, func(e *contracts.AuditEntry) bool {
		return members[e.RequirementID]
	})
}

func (t *Trail) list(ctx context.Context, keep func(*contracts.AuditEntry) bool) ([]contracts.AuditEntry, error) {
	pairs, err := t.store.ScanPrefix(ctx, kvstore.AuditPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}

	out := make([]contracts.AuditEntry, 0, len(pairs))
	for _, kv := range pairs {
		var e contracts.AuditEntry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			return nil, fmt.Errorf("corrupt audit entry at %s: %w", kv.Key, err)
		}
		if keep(&e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PerformedAt.After(out[j].PerformedAt)
	})
	return out, nil
}

// contentHash computes sha256 over the canonical JSON form of the entry with
// its ContentHash field zeroed.
func contentHash(entry contracts.AuditEntry) (string, error) {
	entry.ContentHash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
