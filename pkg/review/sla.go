package review

import (
	"math"
	"time"

	"github.com/transferdesk/transferdesk/pkg/contracts"
)

// ComputeSLAStatus derives a transfer's SLA position at the given instant
// using the default review window. Pure function: no I/O, no hidden clock.
func ComputeSLAStatus(t *contracts.Transfer, related []*contracts.Evidence, now time.Time) contracts.SLAStatus {
	return ComputeSLAStatusProfile(t, related, now, DefaultProfile())
}

// ComputeSLAStatusProfile is ComputeSLAStatus with an explicit review
// policy.
//
// The clock starts at the anchor date: the earliest of the oldest open
// requirement's updatedAt and the upload time of any evidence referencing
// the transfer or that requirement. The due date is the anchor plus the SLA
// window; daysRemaining is the ceiling of the time left in whole days.
// Negative means breached (reported as a positive overdue count); at or
// below the approaching threshold means APPROACHING. A transfer with no
// open requirement is OK with zero days remaining.
func ComputeSLAStatusProfile(t *contracts.Transfer, related []*contracts.Evidence, now time.Time, p Profile) contracts.SLAStatus {
	p = p.normalize()

	oldest := oldestOpenRequirement(t)
	if oldest == nil {
		return contracts.SLAStatus{State: contracts.SlaOK, DaysRemaining: 0}
	}

	anchor := oldest.UpdatedAt
	for _, ev := range related {
		if ev == nil {
			continue
		}
		if ev.RequirementID != oldest.ID && !ev.RequirementID.MatchesTransfer(t.ID) {
			continue
		}
		if ev.UploadedAt.Before(anchor) {
			anchor = ev.UploadedAt
		}
	}

	due := anchor.Add(time.Duration(p.SLAWindowDays) * 24 * time.Hour)
	days := int(math.Ceil(due.Sub(now).Hours() / 24))

	switch {
	case days < 0:
		return contracts.SLAStatus{State: contracts.SlaBreached, DaysRemaining: -days}
	case days <= p.ApproachingDays:
		return contracts.SLAStatus{State: contracts.SlaApproaching, DaysRemaining: days}
	default:
		return contracts.SLAStatus{State: contracts.SlaOK, DaysRemaining: days}
	}
}

// oldestOpenRequirement returns the PENDING or UNDER_REVIEW requirement with
// the smallest updatedAt, or nil when every requirement is settled.
func oldestOpenRequirement(t *contracts.Transfer) *contracts.Requirement {
	var oldest *contracts.Requirement
	for i := range t.Requirements {
		r := &t.Requirements[i]
		if r.Status != contracts.StatusPending && r.Status != contracts.StatusUnderReview {
			continue
		}
		if oldest == nil || r.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = r
		}
	}
	return oldest
}
