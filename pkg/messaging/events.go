package messaging

// Subjects used by the ledger service
const (
	SubjectDeposit    = "ledger.deposit"
	SubjectWithdrawal = "ledger.withdrawal"

	SubjectPayoutRequest = "payout.request"
	QueuePayout          = "payout-workers"
)
