//go:build property
// +build property

package review

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/transferdesk/transferdesk/pkg/contracts"
)

func genRequirements() gopter.Gen {
	status := gen.OneConstOf(
		contracts.StatusPending,
		contracts.StatusUnderReview,
		contracts.StatusApproved,
		contracts.StatusRejected,
		contracts.StatusEscalated,
	)
	return gen.SliceOf(status).Map(func(statuses []contracts.ReviewStatus) []contracts.Requirement {
		reqs := make([]contracts.Requirement, len(statuses))
		for i, s := range statuses {
			reqs[i] = contracts.Requirement{
				ID:        contracts.ChildRequirementID("transfer-prop-test", i),
				Status:    s,
				UpdatedAt: time.Unix(int64(i), 0),
			}
		}
		return reqs
	})
}

// TestDeriveTransferStatusProperties verifies the aggregate-status rule over
// arbitrary requirement status combinations.
func TestDeriveTransferStatusProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("derivation is idempotent", prop.ForAll(
		func(reqs []contracts.Requirement) bool {
			return DeriveTransferStatus(reqs) == DeriveTransferStatus(reqs)
		},
		genRequirements(),
	))

	properties.Property("COMPLETED iff non-empty and all approved", prop.ForAll(
		func(reqs []contracts.Requirement) bool {
			allApproved := len(reqs) > 0
			for _, r := range reqs {
				if r.Status != contracts.StatusApproved {
					allApproved = false
				}
			}
			return (DeriveTransferStatus(reqs) == contracts.TransferCompleted) == allApproved
		},
		genRequirements(),
	))

	properties.Property("any contested requirement forces ACTIVE unless completed", prop.ForAll(
		func(reqs []contracts.Requirement) bool {
			contested := false
			for _, r := range reqs {
				switch r.Status {
				case contracts.StatusUnderReview, contracts.StatusRejected, contracts.StatusEscalated:
					contested = true
				}
			}
			got := DeriveTransferStatus(reqs)
			if contested {
				return got == contracts.TransferActive
			}
			return got != contracts.TransferActive
		},
		genRequirements(),
	))

	properties.Property("empty requirement list is PENDING", prop.ForAll(
		func(_ bool) bool {
			return DeriveTransferStatus(nil) == contracts.TransferPending
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
