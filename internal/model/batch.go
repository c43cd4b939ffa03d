package model

// BatchFailure records why one item in a payout batch was not paid.
type BatchFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// PayoutBatchResult partitions one batch invocation's items into succeeded
// and failed. It is transient: callers own presentation of it, and it is
// never persisted.
type PayoutBatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// AddSuccess records a successfully paid item.
func (r *PayoutBatchResult) AddSuccess(id string) {
	r.Succeeded = append(r.Succeeded, id)
}

// AddFailure records a skipped or failed item with its reason.
func (r *PayoutBatchResult) AddFailure(id, reason string) {
	r.Failed = append(r.Failed, BatchFailure{ID: id, Reason: reason})
}

// Total returns the number of items the batch attempted.
func (r *PayoutBatchResult) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}
