package ledger

const (
	operationCredit = "credit"
	operationPledge = "pledge"

	operationStatusOK     = "ok"
	operationStatusReplay = "replay"
	operationStatusError  = "error"

	idempotencyKeyDelimiter      = ":"
	idempotencyNamespacePurchase = "purchase"
	idempotencyNamespacePledge   = "pledge"

	// KRWPerDT is the fixed settlement conversion rate.
	KRWPerDT int64 = 100
)
