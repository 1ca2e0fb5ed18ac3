/*
config.go - Engine policy configuration

PURPOSE:
  Collects every policy toggle of the engine into one explicit struct
  passed to NewEngine. Nothing reads ambient configuration.
*/

package plan

// Config holds the policy toggles of the engine. The zero value is the
// strict configuration: every balance gate enforced, no automatic fund
// increases, no automatic reconciliation.
type Config struct {
	// FundsMayExceedCost permits creating a budget whose fund is larger
	// than its estimated cost.
	FundsMayExceedCost bool

	// ArchiveOutdatedAfterMonths is the grace period after a budget's
	// end date before the archival sweep archives it. Zero archives as
	// soon as the end date has passed.
	ArchiveOutdatedAfterMonths int

	// AutoIncreaseFundDuringAdjustment grows the budget fund instead of
	// failing when an approved allocation adjustment pushes the total
	// allocated past the fund.
	AutoIncreaseFundDuringAdjustment bool

	// AutoReconcileCompleteRetirement marks an expense reconciled as
	// soon as an approved retirement covers the paid amount exactly.
	AutoReconcileCompleteRetirement bool

	// AllowExpenseOverBalance skips the line-balance check when
	// recording an expense.
	AllowExpenseOverBalance bool

	// AllowRequisitionOverBalance skips the line-balance check when
	// creating a requisition.
	AllowRequisitionOverBalance bool

	// AllowRequisitionOverGrossBalance skips the gross-balance check
	// (balance minus pending payments of other approved requisitions).
	AllowRequisitionOverGrossBalance bool

	// AllowSimilarPendingRequisition permits a second pending
	// requisition for the same budget, role and resource.
	AllowSimilarPendingRequisition bool

	// AllowRequisitionPendingReconciliation permits submitting a
	// requisition while the creator has expenses past the
	// reconciliation age threshold.
	AllowRequisitionPendingReconciliation bool

	// PendingReconciliationMaxAgeDays is the age at which an
	// unreconciled expense starts blocking new requisitions.
	PendingReconciliationMaxAgeDays int
}

// DefaultConfig returns the policy used by the dev server.
func DefaultConfig() Config {
	return Config{
		ArchiveOutdatedAfterMonths:      3,
		AutoReconcileCompleteRetirement: true,
		PendingReconciliationMaxAgeDays: 30,
	}
}
