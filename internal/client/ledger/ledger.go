package ledger

import "context"

// ConfirmStatus is the ledger's view of a submitted transaction.
type ConfirmStatus string

const (
	ConfirmPending   ConfirmStatus = "pending"
	ConfirmConfirmed ConfirmStatus = "confirmed"
	ConfirmFailed    ConfirmStatus = "failed"
)

// SubmitRequest is a signed token transfer ready for submission.
type SubmitRequest struct {
	ToAddress string `json:"to_address"`
	Amount    int64  `json:"amount"`
	TokenMint string `json:"token_mint"`
	Signature string `json:"signature"`
	Reference string `json:"reference"`
}

// Ledger submits signed transfers and reports their confirmation status.
type Ledger interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Confirm(ctx context.Context, txSignature string) (ConfirmStatus, error)
}
