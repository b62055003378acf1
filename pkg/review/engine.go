// Package review implements the evidence/transfer review state engine: the
// rules that move Evidence and Requirements between PENDING, UNDER_REVIEW,
// APPROVED, REJECTED and ESCALATED, derive a Transfer's aggregate status
// from its requirements, propagate escalations, and compute SLA positions.
//
// The engine owns no goroutines. Mutating commands are serialized behind a
// single mutex; reads take the same lock so no caller ever observes a
// half-applied escalation cascade. The persistence collaborator offers no
// transactions, so a store failure mid-cascade can leave a partial update; a
// known limitation of the upstream contract, surfaced as a StoreError.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transferdesk/transferdesk/pkg/audit"
	"github.com/transferdesk/transferdesk/pkg/contracts"
	"github.com/transferdesk/transferdesk/pkg/kvstore"
	"github.com/transferdesk/transferdesk/pkg/notify"
)

// Engine enforces the review state machine over a key-value store, an audit
// trail and a notification sink.
type Engine struct {
	mu      sync.Mutex
	store   kvstore.Store
	trail   *audit.Trail
	sink    notify.Sink
	logger  *slog.Logger
	clock   func() time.Time
	profile Profile
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithProfile sets the review policy. Zero-valued fields fall back to the
// defaults.
func WithProfile(p Profile) Option {
	return func(e *Engine) { e.profile = p.normalize() }
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(store kvstore.Store, trail *audit.Trail, sink notify.Sink, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		trail:   trail,
		sink:    sink,
		logger:  slog.Default(),
		clock:   time.Now,
		profile: DefaultProfile(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListTransfers returns every known transfer with requirements populated.
// Iteration order is stable but otherwise unspecified; priority ordering is
// the caller's concern.
func (e *Engine) ListTransfers(ctx context.Context) ([]*contracts.Transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scanTransfers(ctx)
}

// GetRequirements returns a transfer's requirements. An unknown transfer id
// yields an empty slice, not an error: the caller must tolerate stale
// references.
func (e *Engine) GetRequirements(ctx context.Context, transferID contracts.TransferID) ([]contracts.Requirement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.loadTransfer(ctx, transferID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return []contracts.Requirement{}, nil
		}
		return nil, err
	}
	out := make([]contracts.Requirement, len(t.Requirements))
	copy(out, t.Requirements)
	return out, nil
}

// GetEvidence returns one evidence record by id.
func (e *Engine) GetEvidence(ctx context.Context, evidenceID string) (*contracts.Evidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadEvidence(ctx, evidenceID)
}

// ListEvidence returns every stored evidence record.
func (e *Engine) ListEvidence(ctx context.Context) ([]*contracts.Evidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scanEvidence(ctx)
}

// GetAuditTrail returns a requirement's audit entries, newest first. An
// unknown requirement yields an empty slice.
func (e *Engine) GetAuditTrail(ctx context.Context, requirementID contracts.RequirementID) ([]contracts.AuditEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trail.ListByRequirement(ctx, requirementID)
}

// GetTransferAuditTrail returns every audit entry recorded under a
// transfer's requirements, including transfer-level escalations, newest
// first. Unknown transfers yield an empty slice.
func (e *Engine) GetTransferAuditTrail(ctx context.Context, transferID contracts.TransferID) ([]contracts.AuditEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.loadTransfer(ctx, transferID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return []contracts.AuditEntry{}, nil
		}
		return nil, err
	}
	return e.trail.ListByTransfer(ctx, t.ID, t.RequirementIDs())
}

// UploadEvidence creates a PENDING evidence record and attaches it to a
// transfer. Resolution order: an existing transfer matched by the
// req-{transferID}- convention wins; otherwise, when entity/country context
// is supplied, the transfer keyed by the deterministic (entity, country)
// slug is created or reused. A requirement row is created on the transfer if
// absent; an existing row is left unchanged, so repeat uploads attach
// idempotently.
func (e *Engine) UploadEvidence(ctx context.Context, in contracts.UploadInput) (*contracts.Evidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in.RequirementID == "" {
		return nil, &ValidationError{Field: "requirement_id", Reason: "must not be empty"}
	}
	if len(in.Description) > e.profile.MaxDescriptionLen {
		return nil, &ValidationError{
			Field:  "description",
			Reason: fmt.Sprintf("exceeds %d characters", e.profile.MaxDescriptionLen),
		}
	}

	now := e.clock()
	fileType := in.FileType
	if fileType == "" {
		fileType = contracts.FileTypeFromName(in.FileName)
	}

	ev := &contracts.Evidence{
		ID:            uuid.New().String(),
		RequirementID: in.RequirementID,
		FileName:      in.FileName,
		SizeBytes:     in.SizeBytes,
		FileType:      fileType,
		UploadedBy:    in.UploadedBy,
		UploadedAt:    now,
		Description:   in.Description,
		ContentRef:    in.ContentRef,
		Status:        contracts.StatusPending,
	}

	if err := e.attachToTransfer(ctx, in, now); err != nil {
		return nil, err
	}
	if err := e.saveEvidence(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// attachToTransfer resolves or creates the transfer an upload belongs to and
// ensures its requirement row exists. Unresolvable uploads (no matching
// transfer, no entity context) are stored standalone; that is a degradation,
// not an error.
func (e *Engine) attachToTransfer(ctx context.Context, in contracts.UploadInput, now time.Time) error {
	t, err := e.resolveTransfer(ctx, in.RequirementID)
	if err != nil {
		return err
	}

	if t == nil && in.EntityName != "" && in.Country != "" && in.LegalRequirementName != "" {
		id := contracts.SlugTransferID(in.EntityName, in.Country)
		t, err = e.loadTransfer(ctx, id)
		var nf *NotFoundError
		if errors.As(err, &nf) {
			t = &contracts.Transfer{
				ID:           id,
				Name:         in.EntityName + " / " + in.Country,
				CreatedBy:    in.UploadedBy,
				CreatedAt:    now,
				Jurisdiction: in.Country,
				Entity:       in.EntityName,
				Status:       contracts.TransferPending,
			}
			err = nil
		}
		if err != nil {
			return err
		}
	}
	if t == nil {
		return nil
	}

	if t.Requirement(in.RequirementID) == nil {
		name := in.LegalRequirementName
		if name == "" {
			name = string(in.RequirementID)
		}
		t.Requirements = append(t.Requirements, contracts.Requirement{
			ID:           in.RequirementID,
			Name:         name,
			Jurisdiction: t.Jurisdiction,
			Entity:       t.Entity,
			Status:       contracts.StatusPending,
			UpdatedAt:    now,
			TransferID:   t.ID,
		})
		e.recomputeTransfer(t, "", now)
	}
	return e.saveTransfer(ctx, t)
}

// SubmitDecision applies one review decision to an evidence record and
// propagates it: requirement status, transfer aggregate status and
// escalation stickiness, one audit entry, and notifications to the uploader
// (plus the legal channel on escalation). Evidence whose requirement id does
// not resolve to any transfer is still updated; only the propagation is
// skipped. Notification failures never roll back the mutation.
func (e *Engine) SubmitDecision(ctx context.Context, in contracts.DecisionInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newStatus, action, err := decisionOutcome(in.Decision)
	if err != nil {
		return err
	}

	ev, err := e.loadEvidence(ctx, in.EvidenceID)
	if err != nil {
		return err
	}
	if ev.Status.Terminal() {
		return &ValidationError{
			Field:  "evidence_id",
			Reason: fmt.Sprintf("evidence already decided (status=%s)", ev.Status),
		}
	}

	now := e.clock()
	prev := ev.Status

	ev.Status = newStatus
	ev.ReviewerID = in.ReviewerID
	ev.ReviewerNote = in.Note
	ev.ReviewedAt = &now

	escalatedTo := ""
	if in.Decision == contracts.DecisionEscalate {
		escalatedTo = in.EscalatedTo
		if escalatedTo == "" && len(in.TaggedAuthorities) > 0 {
			escalatedTo = in.TaggedAuthorities[0]
		}
		if escalatedTo == "" {
			escalatedTo = e.profile.DefaultAuthority
		}
		ev.EscalatedTo = escalatedTo
		ev.EscalatedBy = in.ReviewerID
		ev.EscalatedAt = &now
		ev.EscalationReason = in.EscalationReason
	}

	if err := e.saveEvidence(ctx, ev); err != nil {
		return err
	}

	t, err := e.resolveTransfer(ctx, ev.RequirementID)
	if err != nil {
		return err
	}
	if t == nil {
		e.logger.Warn("decision on unresolvable requirement, transfer propagation skipped",
			"evidence_id", ev.ID, "requirement_id", ev.RequirementID)
		return nil
	}

	if req := t.Requirement(ev.RequirementID); req != nil {
		req.Status = newStatus
		req.UpdatedAt = now
	}
	e.recomputeTransfer(t, escalatedTo, now)
	if err := e.saveTransfer(ctx, t); err != nil {
		return err
	}

	if _, err := e.trail.Append(ctx, contracts.AuditEntry{
		RequirementID:  ev.RequirementID,
		Action:         action,
		PerformedBy:    in.ReviewerID,
		PerformedAt:    now,
		Note:           in.Note,
		PreviousStatus: prev,
		NewStatus:      newStatus,
	}); err != nil {
		return &StoreError{Op: "audit append", Err: err}
	}

	verb := strings.ToLower(string(in.Decision))
	e.notifyBestEffort(ctx, contracts.Notification{
		Message:   fmt.Sprintf("Evidence %q was %s", ev.FileName, strings.ToLower(string(newStatus))),
		Recipient: uploaderRecipient(ev),
		Type:      verb,
		RequestID: string(ev.RequirementID),
		Sender:    in.ReviewerID,
	})
	if in.Decision == contracts.DecisionEscalate {
		e.notifyBestEffort(ctx, contracts.Notification{
			Message:   fmt.Sprintf("Evidence %q escalated to %s: %s", ev.FileName, escalatedTo, in.EscalationReason),
			Recipient: e.profile.DefaultAuthority,
			Type:      verb,
			RequestID: string(ev.RequirementID),
			Sender:    in.ReviewerID,
		})
	}
	return nil
}

// DeleteEvidence removes the evidence record permanently. Requirement and
// transfer status are deliberately untouched: withdrawn evidence does not
// undo a decision already recorded against its requirement.
func (e *Engine) DeleteEvidence(ctx context.Context, evidenceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.loadEvidence(ctx, evidenceID); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, kvstore.EvidencePrefix+evidenceID); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// EscalateTransfer is the end-user manual override: it forces the transfer
// and everything under it into the escalated state regardless of prior
// (even terminal) statuses, flags it high priority, and parks the transfer
// status at PENDING for admin triage. The cascade is not transactional; a
// store failure partway leaves earlier writes in place.
func (e *Engine) EscalateTransfer(ctx context.Context, transferID contracts.TransferID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.loadTransfer(ctx, transferID)
	if err != nil {
		return err
	}

	now := e.clock()
	authority := e.profile.TransferEscalationAuthority

	t.EscalatedTo = authority
	t.EscalatedBy = "End User"
	t.EscalatedAt = &now
	t.EscalationReason = reason
	t.IsHighPriority = true
	// Manual override: the derived-status rule does not apply here.
	t.Status = contracts.TransferPending

	prev := contracts.StatusPending
	auditRequirement := contracts.RequirementID(t.ID)
	if len(t.Requirements) > 0 {
		prev = t.Requirements[0].Status
		auditRequirement = t.Requirements[0].ID
	}
	for i := range t.Requirements {
		t.Requirements[i].Status = contracts.StatusEscalated
		t.Requirements[i].UpdatedAt = now
	}
	if err := e.saveTransfer(ctx, t); err != nil {
		return err
	}

	if err := e.escalateEvidence(ctx, t, reason, now); err != nil {
		return err
	}

	if _, err := e.trail.Append(ctx, contracts.AuditEntry{
		RequirementID:  auditRequirement,
		Action:         contracts.ActionEscalated,
		PerformedBy:    "End User",
		PerformedAt:    now,
		Note:           reason,
		PreviousStatus: prev,
		NewStatus:      contracts.StatusEscalated,
	}); err != nil {
		return &StoreError{Op: "audit append", Err: err}
	}

	e.notifyBestEffort(ctx, contracts.Notification{
		Message:   fmt.Sprintf("Transfer %q escalated: %s", t.Name, reason),
		Recipient: authority,
		Type:      "escalate",
		RequestID: string(t.ID),
		Sender:    "End User",
	})
	return nil
}

// escalateEvidence forces every evidence record referencing the transfer (or
// any of its requirements) to ESCALATED with matching stamps.
func (e *Engine) escalateEvidence(ctx context.Context, t *contracts.Transfer, reason string, now time.Time) error {
	all, err := e.scanEvidence(ctx)
	if err != nil {
		return err
	}
	owned := make(map[contracts.RequirementID]bool, len(t.Requirements))
	for _, id := range t.RequirementIDs() {
		owned[id] = true
	}

	for _, ev := range all {
		if !e.referencesTransfer(ev.RequirementID, t.ID, owned) {
			continue
		}
		ev.Status = contracts.StatusEscalated
		ev.EscalatedTo = t.EscalatedTo
		ev.EscalatedBy = t.EscalatedBy
		ev.EscalatedAt = &now
		ev.EscalationReason = reason
		if ev.ReviewedAt == nil {
			ev.ReviewedAt = &now
		}
		if err := e.saveEvidence(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) referencesTransfer(reqID contracts.RequirementID, transferID contracts.TransferID, owned map[contracts.RequirementID]bool) bool {
	if owned[reqID] || reqID.MatchesTransfer(transferID) {
		return true
	}
	fallback, ok := reqID.FallbackTransferID()
	return ok && fallback == transferID
}

// TransferSLA computes the transfer's SLA position from its open
// requirements and related evidence. Unknown transfers are OK/0, matching
// the tolerant read contract.
func (e *Engine) TransferSLA(ctx context.Context, transferID contracts.TransferID) (contracts.SLAStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.loadTransfer(ctx, transferID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return contracts.SLAStatus{State: contracts.SlaOK}, nil
		}
		return contracts.SLAStatus{}, err
	}
	related, err := e.scanEvidence(ctx)
	if err != nil {
		return contracts.SLAStatus{}, err
	}
	return ComputeSLAStatusProfile(t, related, e.clock(), e.profile), nil
}

// decisionOutcome maps a decision verb to the resulting status and audit
// action, rejecting unknown verbs.
func decisionOutcome(d contracts.DecisionVerb) (contracts.ReviewStatus, contracts.AuditAction, error) {
	switch d {
	case contracts.DecisionApprove:
		return contracts.StatusApproved, contracts.ActionApproved, nil
	case contracts.DecisionReject:
		return contracts.StatusRejected, contracts.ActionRejected, nil
	case contracts.DecisionEscalate:
		return contracts.StatusEscalated, contracts.ActionEscalated, nil
	default:
		return "", "", &ValidationError{Field: "decision", Reason: fmt.Sprintf("unrecognized verb %q", d)}
	}
}

// DeriveTransferStatus computes the aggregate status from requirement
// statuses: COMPLETED when non-empty and all APPROVED, ACTIVE when anything
// is in flight or contested, PENDING otherwise. Deterministic and
// idempotent.
func DeriveTransferStatus(reqs []contracts.Requirement) contracts.TransferStatus {
	if len(reqs) == 0 {
		return contracts.TransferPending
	}
	allApproved := true
	active := false
	for i := range reqs {
		switch reqs[i].Status {
		case contracts.StatusApproved:
		case contracts.StatusUnderReview, contracts.StatusRejected, contracts.StatusEscalated:
			allApproved = false
			active = true
		default:
			allApproved = false
		}
	}
	if allApproved {
		return contracts.TransferCompleted
	}
	if active {
		return contracts.TransferActive
	}
	return contracts.TransferPending
}

// recomputeTransfer applies the derived-status rule and escalation
// stickiness after a requirement mutation. escalatedTo names the authority
// for a freshly escalated requirement; the sticky flags are set once and
// never cleared by later non-escalated updates.
func (e *Engine) recomputeTransfer(t *contracts.Transfer, escalatedTo string, now time.Time) {
	t.Status = DeriveTransferStatus(t.Requirements)

	escalated := false
	for i := range t.Requirements {
		if t.Requirements[i].Status == contracts.StatusEscalated {
			escalated = true
			break
		}
	}
	if !escalated {
		return
	}
	t.IsHighPriority = true
	if t.EscalatedTo == "" {
		if escalatedTo == "" {
			escalatedTo = e.profile.AuthorityFor(t.Jurisdiction)
		}
		t.EscalatedTo = escalatedTo
	}
	if t.EscalatedAt == nil {
		t.EscalatedAt = &now
	}
}

// resolveTransfer finds the transfer owning a requirement id: first a prefix
// match against known transfers, then the legacy req- to transfer- fallback.
// Returns nil (no error) when nothing resolves.
func (e *Engine) resolveTransfer(ctx context.Context, reqID contracts.RequirementID) (*contracts.Transfer, error) {
	transfers, err := e.scanTransfers(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range transfers {
		if reqID.MatchesTransfer(t.ID) {
			return t, nil
		}
		if t.Requirement(reqID) != nil {
			return t, nil
		}
	}
	if fallback, ok := reqID.FallbackTransferID(); ok {
		t, err := e.loadTransfer(ctx, fallback)
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, nil
}

func (e *Engine) notifyBestEffort(ctx context.Context, n contracts.Notification) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Send(ctx, n); err != nil {
		e.logger.Warn("notification delivery failed",
			"recipient", n.Recipient, "type", n.Type, "error", err)
	}
}

func uploaderRecipient(ev *contracts.Evidence) string {
	if ev.UploadedBy != "" {
		return ev.UploadedBy
	}
	return "End User"
}

func (e *Engine) loadEvidence(ctx context.Context, id string) (*contracts.Evidence, error) {
	data, err := e.store.Get(ctx, kvstore.EvidencePrefix+id)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, &NotFoundError{Kind: "evidence", ID: id}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	var ev contracts.Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}
	return &ev, nil
}

func (e *Engine) saveEvidence(ctx context.Context, ev *contracts.Evidence) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	if err := e.store.Set(ctx, kvstore.EvidencePrefix+ev.ID, data); err != nil {
		return &StoreError{Op: "set", Err: err}
	}
	return nil
}

func (e *Engine) loadTransfer(ctx context.Context, id contracts.TransferID) (*contracts.Transfer, error) {
	data, err := e.store.Get(ctx, kvstore.TransferPrefix+string(id))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, &NotFoundError{Kind: "transfer", ID: string(id)}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	var t contracts.Transfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}
	return &t, nil
}

func (e *Engine) saveTransfer(ctx context.Context, t *contracts.Transfer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	if err := e.store.Set(ctx, kvstore.TransferPrefix+string(t.ID), data); err != nil {
		return &StoreError{Op: "set", Err: err}
	}
	return nil
}

func (e *Engine) scanTransfers(ctx context.Context) ([]*contracts.Transfer, error) {
	pairs, err := e.store.ScanPrefix(ctx, kvstore.TransferPrefix)
	if err != nil {
		return nil, &StoreError{Op: "scan", Err: err}
	}
	out := make([]*contracts.Transfer, 0, len(pairs))
	for _, kv := range pairs {
		var t contracts.Transfer
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			return nil, &StoreError{Op: "decode", Err: fmt.Errorf("at %s: %w", kv.Key, err)}
		}
		out = append(out, &t)
	}
	return out, nil
}

func (e *Engine) scanEvidence(ctx context.Context) ([]*contracts.Evidence, error) {
	pairs, err := e.store.ScanPrefix(ctx, kvstore.EvidencePrefix)
	if err != nil {
		return nil, &StoreError{Op: "scan", Err: err}
	}
	out := make([]*contracts.Evidence, 0, len(pairs))
	for _, kv := range pairs {
		var ev contracts.Evidence
		if err := json.Unmarshal(kv.Value, &ev); err != nil {
			return nil, &StoreError{Op: "decode", Err: fmt.Errorf("at %s: %w", kv.Key, err)}
		}
		out = append(out, &ev)
	}
	return out, nil
}
