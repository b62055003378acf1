package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transferdesk/transferdesk/pkg/audit"
	"github.com/transferdesk/transferdesk/pkg/contracts"
	"github.com/transferdesk/transferdesk/pkg/kvstore"
	"github.com/transferdesk/transferdesk/pkg/notify"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(opts ...Option) (*Engine, *notify.MemorySink) {
	store := kvstore.NewMemoryStore()
	sink := notify.NewMemorySink()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(store, audit.NewTrail(store), sink, opts...), sink
}

func acmeUpload() contracts.UploadInput {
	return contracts.UploadInput{
		RequirementID:        "req-transfer-acme-japan-1",
		FileName:             "adequacy-assessment.pdf",
		SizeBytes:            2048,
		UploadedBy:           "user-7",
		Description:          "Signed adequacy assessment",
		EntityName:           "Acme",
		Country:              "Japan",
		LegalRequirementName: "Adequacy Assessment",
	}
}

func TestUploadCreatesPendingEvidenceAndTransfer(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	ev, err := e.UploadEvidence(ctx, acmeUpload())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != contracts.StatusPending {
		t.Fatalf("expected PENDING, got %s", ev.Status)
	}
	if ev.ReviewedAt != nil {
		t.Fatal("reviewedAt must be unset until a decision is submitted")
	}
	if ev.FileType != contracts.FileTypePDF {
		t.Fatalf("expected PDF, got %s", ev.FileType)
	}

	transfers, err := e.ListTransfers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(transfers))
	}
	tr := transfers[0]
	if tr.ID != "transfer-acme-japan" {
		t.Fatalf("expected slug id, got %s", tr.ID)
	}
	if tr.Status != contracts.TransferPending {
		t.Fatalf("expected PENDING transfer, got %s", tr.Status)
	}
	if len(tr.Requirements) != 1 || tr.Requirements[0].Status != contracts.StatusPending {
		t.Fatalf("expected one PENDING requirement, got %+v", tr.Requirements)
	}
}

func TestUploadValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	in := acmeUpload()
	in.RequirementID = ""
	_, err := e.UploadEvidence(ctx, in)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	in = acmeUpload()
	in.Description = string(make([]byte, 2001))
	_, err = e.UploadEvidence(ctx, in)
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for long description, got %v", err)
	}
}

func TestUploadAttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	if _, err := e.UploadEvidence(ctx, acmeUpload()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UploadEvidence(ctx, acmeUpload()); err != nil {
		t.Fatal(err)
	}

	reqs, err := e.GetRequirements(ctx, "transfer-acme-japan")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Fatalf("repeat upload must not duplicate the requirement, got %d", len(reqs))
	}
}

func TestUploadWithoutTransferContextStoresStandalone(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	ev, err := e.UploadEvidence(ctx, contracts.UploadInput{
		RequirementID: "req-orphan-9",
		FileName:      "note.txt",
		UploadedBy:    "user-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != contracts.StatusPending {
		t.Fatalf("expected PENDING, got %s", ev.Status)
	}
	transfers, err := e.ListTransfers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 0 {
		t.Fatalf("no transfer should be created without entity context, got %d", len(transfers))
	}
}

func TestApproveDecision(t *testing.T) {
	ctx := context.Background()
	e, sink := newTestEngine()

	ev, err := e.UploadEvidence(ctx, acmeUpload())
	if err != nil {
		t.Fatal(err)
	}

	err = e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionApprove,
		ReviewerID: "legal-1",
		Note:       "meets Art. 46 requirements",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.GetEvidence(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != contracts.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", got.Status)
	}
	if got.ReviewerNote != "meets Art. 46 requirements" || got.ReviewedAt == nil {
		t.Fatalf("reviewer stamps missing: %+v", got)
	}

	reqs, _ := e.GetRequirements(ctx, "transfer-acme-japan")
	if reqs[0].Status != contracts.StatusApproved {
		t.Fatalf("requirement not approved: %s", reqs[0].Status)
	}

	transfers, _ := e.ListTransfers(ctx)
	if transfers[0].Status != contracts.TransferCompleted {
		t.Fatalf("single approved requirement must complete the transfer, got %s", transfers[0].Status)
	}

	entries, err := e.GetAuditTrail(ctx, ev.RequirementID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	if entries[0].Action != contracts.ActionApproved ||
		entries[0].PreviousStatus != contracts.StatusPending ||
		entries[0].NewStatus != contracts.StatusApproved {
		t.Fatalf("audit entry mismatch: %+v", entries[0])
	}

	sent := sink.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sent))
	}
	if sent[0].Recipient != "user-7" || sent[0].Type != "approve" {
		t.Fatalf("notification mismatch: %+v", sent[0])
	}
}

func TestRejectMakesTransferActive(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	ev, _ := e.UploadEvidence(ctx, acmeUpload())
	if err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionReject,
		ReviewerID: "legal-1",
	}); err != nil {
		t.Fatal(err)
	}

	transfers, _ := e.ListTransfers(ctx)
	if transfers[0].Status != contracts.TransferActive {
		t.Fatalf("rejected requirement must make transfer ACTIVE, got %s", transfers[0].Status)
	}
	if transfers[0].IsHighPriority {
		t.Fatal("rejection must not flag high priority")
	}
}

func TestEscalateDecision(t *testing.T) {
	ctx := context.Background()
	e, sink := newTestEngine()

	ev, _ := e.UploadEvidence(ctx, acmeUpload())
	err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID:        ev.ID,
		Decision:          contracts.DecisionEscalate,
		ReviewerID:        "legal-1",
		EscalationReason:  "conflicting jurisdiction guidance",
		TaggedAuthorities: []string{"DISO"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := e.GetEvidence(ctx, ev.ID)
	if got.Status != contracts.StatusEscalated {
		t.Fatalf("expected ESCALATED, got %s", got.Status)
	}
	if got.EscalatedTo != "DISO" || got.EscalatedAt == nil || got.EscalatedBy != "legal-1" {
		t.Fatalf("escalation stamps mismatch: %+v", got)
	}

	transfers, _ := e.ListTransfers(ctx)
	tr := transfers[0]
	if !tr.IsHighPriority {
		t.Fatal("escalation must flag the transfer high priority")
	}
	if tr.EscalatedTo != "DISO" {
		t.Fatalf("transfer escalatedTo = %q, want DISO", tr.EscalatedTo)
	}
	if tr.Status != contracts.TransferActive {
		t.Fatalf("escalated requirement must make transfer ACTIVE, got %s", tr.Status)
	}

	sent := sink.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected uploader + legal notifications, got %d", len(sent))
	}
	if sent[0].Recipient != "user-7" || sent[1].Recipient != "Legal" {
		t.Fatalf("notification recipients mismatch: %+v", sent)
	}
}

func TestEscalateDecisionDefaultsToLegal(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	ev, _ := e.UploadEvidence(ctx, acmeUpload())
	if err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionEscalate,
		ReviewerID: "legal-1",
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := e.GetEvidence(ctx, ev.ID)
	if got.EscalatedTo != "Legal" {
		t.Fatalf("expected default authority Legal, got %q", got.EscalatedTo)
	}
}

func TestDecisionUnknownEvidence(t *testing.T) {
	e, _ := newTestEngine()

	err := e.SubmitDecision(context.Background(), contracts.DecisionInput{
		EvidenceID: "no-such-evidence",
		Decision:   contracts.DecisionApprove,
	})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDecisionUnknownVerb(t *testing.T) {
	e, _ := newTestEngine()

	err := e.SubmitDecision(context.Background(), contracts.DecisionInput{
		EvidenceID: "whatever",
		Decision:   "DEFER",
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDecisionTerminalGuard(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	ev, _ := e.UploadEvidence(ctx, acmeUpload())
	if err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionApprove,
		ReviewerID: "legal-1",
	}); err != nil {
		t.Fatal(err)
	}

	err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionReject,
		ReviewerID: "legal-2",
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("re-deciding terminal evidence must fail validation, got %v", err)
	}
}

func TestDeleteEvidenceDoesNotCascade(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	ev, _ := e.UploadEvidence(ctx, acmeUpload())
	if err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionApprove,
		ReviewerID: "legal-1",
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.DeleteEvidence(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}

	all, err := e.ListEvidence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("evidence should be gone, got %d records", len(all))
	}

	// The recorded decision survives the withdrawal.
	reqs, _ := e.GetRequirements(ctx, "transfer-acme-japan")
	if reqs[0].Status != contracts.StatusApproved {
		t.Fatalf("requirement status must be unchanged, got %s", reqs[0].Status)
	}

	var nf *NotFoundError
	if err := e.DeleteEvidence(ctx, ev.ID); !errors.As(err, &nf) {
		t.Fatalf("double delete must be NotFound, got %v", err)
	}
}

func TestEscalateTransferCascade(t *testing.T) {
	ctx := context.Background()
	e, sink := newTestEngine()

	ev1, _ := e.UploadEvidence(ctx, acmeUpload())
	second := acmeUpload()
	second.RequirementID = "req-transfer-acme-japan-2"
	second.LegalRequirementName = "Transfer Impact Assessment"
	ev2, _ := e.UploadEvidence(ctx, second)

	// One requirement already approved: the override must still force it.
	if err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev1.ID,
		Decision:   contracts.DecisionApprove,
		ReviewerID: "legal-1",
	}); err != nil {
		t.Fatal(err)
	}
	sink.Reset()

	if err := e.EscalateTransfer(ctx, "transfer-acme-japan", "regulator inquiry"); err != nil {
		t.Fatal(err)
	}

	transfers, _ := e.ListTransfers(ctx)
	tr := transfers[0]
	if !tr.IsHighPriority || tr.EscalatedTo != "Admin" || tr.EscalatedBy != "End User" {
		t.Fatalf("transfer escalation flags mismatch: %+v", tr)
	}
	if tr.Status != contracts.TransferPending {
		t.Fatalf("manual escalation parks transfer at PENDING, got %s", tr.Status)
	}
	for _, r := range tr.Requirements {
		if r.Status != contracts.StatusEscalated {
			t.Fatalf("requirement %s not escalated: %s", r.ID, r.Status)
		}
	}

	for _, id := range []string{ev1.ID, ev2.ID} {
		got, err := e.GetEvidence(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != contracts.StatusEscalated {
			t.Fatalf("evidence %s not escalated: %s", id, got.Status)
		}
		if got.EscalatedTo != "Admin" || got.EscalatedAt == nil {
			t.Fatalf("evidence escalation stamps mismatch: %+v", got)
		}
	}

	sent := sink.Sent()
	if len(sent) != 1 || sent[0].Recipient != "Admin" || sent[0].Type != "escalate" {
		t.Fatalf("expected one admin notification, got %+v", sent)
	}
}

func TestEscalateTransferIdempotentFlags(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	if _, err := e.UploadEvidence(ctx, acmeUpload()); err != nil {
		t.Fatal(err)
	}

	if err := e.EscalateTransfer(ctx, "transfer-acme-japan", "first"); err != nil {
		t.Fatal(err)
	}
	if err := e.EscalateTransfer(ctx, "transfer-acme-japan", "second"); err != nil {
		t.Fatal(err)
	}

	transfers, _ := e.ListTransfers(ctx)
	if !transfers[0].IsHighPriority {
		t.Fatal("high priority flag must survive repeat escalation")
	}

	// One audit entry per call, recorded against the first requirement.
	entries, err := e.GetAuditTrail(ctx, "req-transfer-acme-japan-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries (one per call), got %d", len(entries))
	}
}

func TestEscalateTransferUnknown(t *testing.T) {
	e, _ := newTestEngine()

	err := e.EscalateTransfer(context.Background(), "transfer-ghost-mars", "why not")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestGetRequirementsUnknownTransfer(t *testing.T) {
	e, _ := newTestEngine()

	reqs, err := e.GetRequirements(context.Background(), "transfer-stale-ref")
	if err != nil {
		t.Fatalf("stale reference must not error: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected empty slice, got %d", len(reqs))
	}
}

type failSink struct{}

func (failSink) Send(context.Context, contracts.Notification) error {
	return errors.New("channel down")
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	e := NewEngine(store, audit.NewTrail(store), failSink{},
		WithClock(func() time.Time { return testNow }))

	ev, err := e.UploadEvidence(ctx, acmeUpload())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitDecision(ctx, contracts.DecisionInput{
		EvidenceID: ev.ID,
		Decision:   contracts.DecisionApprove,
		ReviewerID: "legal-1",
	}); err != nil {
		t.Fatalf("notification failure must not surface: %v", err)
	}

	got, _ := e.GetEvidence(ctx, ev.ID)
	if got.Status != contracts.StatusApproved {
		t.Fatalf("state mutation must stick, got %s", got.Status)
	}
}
