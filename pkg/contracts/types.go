// Package contracts defines the shared data model for cross-border
// data-transfer compliance review: evidence records, the requirements they
// satisfy, the transfers that own those requirements, and the audit trail
// of every review decision.
package contracts

import "time"

// ReviewStatus is the lifecycle state of an Evidence item or a Requirement.
type ReviewStatus string

const (
	StatusPending     ReviewStatus = "PENDING"
	StatusUnderReview ReviewStatus = "UNDER_REVIEW"
	StatusApproved    ReviewStatus = "APPROVED"
	StatusRejected    ReviewStatus = "REJECTED"
	StatusEscalated   ReviewStatus = "ESCALATED"
)

// Terminal reports whether a status can no longer change through the normal
// decision path. The transfer-level escalation override can still force
// ESCALATED from any state.
func (s ReviewStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusEscalated:
		return true
	}
	return false
}

// TransferStatus is the derived aggregate state of a Transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferActive    TransferStatus = "ACTIVE"
	TransferCompleted TransferStatus = "COMPLETED"
)

// FileType categorizes uploaded evidence by document family.
type FileType string

const (
	FileTypePDF   FileType = "PDF"
	FileTypeDoc   FileType = "DOC"
	FileTypeXLS   FileType = "XLS"
	FileTypeOther FileType = "OTHER"
)

// DecisionVerb is the action a reviewer takes on one piece of evidence.
type DecisionVerb string

const (
	DecisionApprove  DecisionVerb = "APPROVE"
	DecisionReject   DecisionVerb = "REJECT"
	DecisionEscalate DecisionVerb = "ESCALATE"
)

// AuditAction categorizes audit trail entries.
type AuditAction string

const (
	ActionSubmitted AuditAction = "SUBMITTED"
	ActionReviewed  AuditAction = "REVIEWED"
	ActionApproved  AuditAction = "APPROVED"
	ActionRejected  AuditAction = "REJECTED"
	ActionEscalated AuditAction = "ESCALATED"
)

// Evidence is a single uploaded file submitted against one Requirement.
type Evidence struct {
	// Identity
	ID            string        `json:"id"`
	RequirementID RequirementID `json:"requirement_id"`

	// Upload attributes
	FileName    string    `json:"file_name"`
	SizeBytes   int64     `json:"size_bytes"`
	FileType    FileType  `json:"file_type"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Description string    `json:"description,omitempty"`
	// ContentRef is an opaque reference to the stored file body. The engine
	// never inspects it.
	ContentRef string `json:"content_ref,omitempty"`

	// Review attributes, set only by a decision.
	Status       ReviewStatus `json:"status"`
	ReviewerID   string       `json:"reviewer_id,omitempty"`
	ReviewerNote string       `json:"reviewer_note,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`

	// Escalation attributes, set only when Status becomes ESCALATED.
	EscalatedTo      string     `json:"escalated_to,omitempty"`
	EscalatedBy      string     `json:"escalated_by,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
}

// Requirement is one compliance obligation belonging to exactly one Transfer.
type Requirement struct {
	ID           RequirementID `json:"id"`
	Name         string        `json:"name"`
	Jurisdiction string        `json:"jurisdiction,omitempty"`
	Entity       string        `json:"entity,omitempty"`
	SubjectType  string        `json:"subject_type,omitempty"`
	Status       ReviewStatus  `json:"status"`
	UpdatedAt    time.Time     `json:"updated_at"`
	TransferID   TransferID    `json:"transfer_id"`
	Description  string        `json:"description,omitempty"`
}

// Transfer is the aggregate root for one cross-border data movement request.
// Its Status is derived from its requirements and recomputed after every
// requirement mutation.
type Transfer struct {
	ID           TransferID     `json:"id"`
	Name         string         `json:"name"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	Jurisdiction string         `json:"jurisdiction,omitempty"`
	Entity       string         `json:"entity,omitempty"`
	SubjectType  string         `json:"subject_type,omitempty"`
	Status       TransferStatus `json:"status"`
	Requirements []Requirement  `json:"requirements"`

	// Escalation flags. Sticky: once set they survive later non-escalated
	// requirement updates.
	EscalatedTo      string     `json:"escalated_to,omitempty"`
	EscalatedBy      string     `json:"escalated_by,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	IsHighPriority   bool       `json:"is_high_priority"`
}

// Requirement returns the owned requirement with the given id, or nil.
func (t *Transfer) Requirement(id RequirementID) *Requirement {
	for i := range t.Requirements {
		if t.Requirements[i].ID == id {
			return &t.Requirements[i]
		}
	}
	return nil
}

// RequirementIDs returns the ids of all owned requirements.
func (t *Transfer) RequirementIDs() []RequirementID {
	ids := make([]RequirementID, 0, len(t.Requirements))
	for i := range t.Requirements {
		ids = append(ids, t.Requirements[i].ID)
	}
	return ids
}

// AuditEntry is an immutable record of one state transition. Entries are
// append-only: never edited, never removed.
type AuditEntry struct {
	ID             string        `json:"id"`
	RequirementID  RequirementID `json:"requirement_id"`
	Action         AuditAction   `json:"action"`
	PerformedBy    string        `json:"performed_by"`
	PerformedAt    time.Time     `json:"performed_at"`
	Note           string        `json:"note,omitempty"`
	PreviousStatus ReviewStatus  `json:"previous_status"`
	NewStatus      ReviewStatus  `json:"new_status"`
	// ContentHash is the sha256 of the entry's canonical JSON form, computed
	// at append time.
	ContentHash string `json:"content_hash,omitempty"`
}

// Notification is a best-effort message to a persona channel. Delivery
// failures are logged and swallowed, never surfaced to the command that
// triggered them.
type Notification struct {
	Message   string `json:"message"`
	Recipient string `json:"recipient"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
}

// UploadInput is the command payload for uploading one evidence file.
type UploadInput struct {
	RequirementID RequirementID `json:"requirement_id"`
	FileName      string        `json:"file_name"`
	SizeBytes     int64         `json:"size_bytes"`
	FileType      FileType      `json:"file_type"`
	UploadedBy    string        `json:"uploaded_by"`
	Description   string        `json:"description,omitempty"`
	ContentRef    string        `json:"content_ref,omitempty"`

	// Optional transfer-creation context, used when RequirementID does not
	// resolve to a known transfer.
	EntityName           string `json:"entity_name,omitempty"`
	Country              string `json:"country,omitempty"`
	LegalRequirementName string `json:"legal_requirement_name,omitempty"`
}

// DecisionInput is the command payload for one review decision.
type DecisionInput struct {
	EvidenceID        string       `json:"evidence_id"`
	Decision          DecisionVerb `json:"decision"`
	ReviewerID        string       `json:"reviewer_id,omitempty"`
	Note              string       `json:"note,omitempty"`
	EscalationReason  string       `json:"escalation_reason,omitempty"`
	TaggedAuthorities []string     `json:"tagged_authorities,omitempty"`
	EscalatedTo       string       `json:"escalated_to,omitempty"`
}

// SlaState classifies how a transfer is tracking against its review window.
type SlaState string

const (
	SlaBreached    SlaState = "BREACHED"
	SlaApproaching SlaState = "APPROACHING"
	SlaOK          SlaState = "OK"
)

// SLAStatus is the derived SLA position of one transfer.
type SLAStatus struct {
	State SlaState `json:"state"`
	// DaysRemaining is days until the due date, or days past it when State
	// is BREACHED (always non-negative).
	DaysRemaining int `json:"days_remaining"`
}
