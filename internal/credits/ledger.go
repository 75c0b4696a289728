// Package credits debits a user's balance when an upload is accepted. Debits
// happen off the request path and never fail the upload.
package credits

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmylchreest/reelcast/internal/httpclient"
	"github.com/jmylchreest/reelcast/internal/urlutil"
)

// ErrLedgerURLRequired indicates an HTTP ledger was built without an endpoint.
var ErrLedgerURLRequired = errors.New("ledger url is required")

// Debit is one balance change request.
type Debit struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`
	Amount  int    `json:"amount"`
	Files   int    `json:"files"`
	Story   bool   `json:"story"`
	// Reference makes the debit idempotent on the ledger side.
	Reference string `json:"reference"`
}

// Ledger records debits against user balances.
type Ledger interface {
	Debit(ctx context.Context, debit Debit) error
}

// HTTPLedger posts debits as JSON to a remote ledger service.
type HTTPLedger struct {
	url    string
	client *httpclient.Client
}

// NewHTTPLedger creates a ledger that posts to url.
func NewHTTPLedger(url string, client *httpclient.Client) (*HTTPLedger, error) {
	if url == "" {
		return nil, ErrLedgerURLRequired
	}
	if err := urlutil.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("ledger url: %w", err)
	}
	if client == nil {
		client = httpclient.New(httpclient.DefaultConfig())
	}
	return &HTTPLedger{url: url, client: client}, nil
}

// Debit posts the debit. The reference is sent as an Idempotency-Key so a
// retried request is applied once.
func (l *HTTPLedger) Debit(ctx context.Context, debit Debit) error {
	headers := http.Header{}
	if debit.Reference != "" {
		headers.Set("Idempotency-Key", debit.Reference)
	}
	if err := l.client.PostJSON(ctx, l.url, headers, debit, nil); err != nil {
		return fmt.Errorf("posting debit for %s: %w", debit.UserID, err)
	}
	return nil
}

// NopLedger accepts every debit without recording it.
type NopLedger struct{}

// Debit implements Ledger.
func (NopLedger) Debit(context.Context, Debit) error { return nil }
