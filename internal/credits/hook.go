package credits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/httpclient"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/version"
)

// Default pricing.
const (
	DefaultPerFile    = 1
	DefaultStoryExtra = 2
	defaultTimeout    = 10 * time.Second
)

// Pricing turns an upload into a debit amount.
type Pricing struct {
	PerFile    int
	StoryExtra int
}

// Amount returns files*PerFile, plus StoryExtra when story is set.
func (p Pricing) Amount(files int, story bool) int {
	amount := max(files, 0) * p.PerFile
	if story {
		amount += p.StoryExtra
	}
	return amount
}

// MismatchFunc is told about debits that failed, so balances can be
// reconciled out of band.
type MismatchFunc func(debit Debit, err error)

// Hook runs ledger debits in the background.
type Hook struct {
	ledger     Ledger
	pricing    Pricing
	timeout    time.Duration
	logger     *slog.Logger
	onMismatch MismatchFunc

	base context.Context
	wg   sync.WaitGroup
}

// NewHook creates a hook. Debits run under a context derived from base
// without its cancellation, bounded by timeout.
func NewHook(base context.Context, ledger Ledger, pricing Pricing, timeout time.Duration) *Hook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Hook{
		ledger:  ledger,
		pricing: pricing,
		timeout: timeout,
		logger:  slog.Default(),
		base:    context.WithoutCancel(base),
	}
}

// NewHookFromConfig builds the configured hook: an HTTP ledger if credits
// are enabled, otherwise a no-op ledger.
func NewHookFromConfig(base context.Context, cfg config.CreditsConfig, logger *slog.Logger) (*Hook, error) {
	var ledger Ledger = NopLedger{}
	if cfg.Enabled {
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = cfg.Timeout
		clientCfg.UserAgent = version.UserAgent()
		clientCfg.Logger = observability.WithComponent(logger, "ledger")

		httpLedger, err := NewHTTPLedger(cfg.LedgerURL, httpclient.New(clientCfg))
		if err != nil {
			return nil, err
		}
		ledger = httpLedger
	}

	pricing := Pricing{PerFile: cfg.PerFile, StoryExtra: cfg.StoryExtra}
	return NewHook(base, ledger, pricing, cfg.Timeout).WithLogger(logger), nil
}

// WithLogger sets a custom logger.
func (h *Hook) WithLogger(logger *slog.Logger) *Hook {
	if logger != nil {
		h.logger = observability.WithComponent(logger, "credits")
	}
	return h
}

// OnMismatch registers fn to be called for each failed debit.
func (h *Hook) OnMismatch(fn MismatchFunc) *Hook {
	h.onMismatch = fn
	return h
}

// Pricing returns the hook's pricing.
func (h *Hook) Pricing() Pricing {
	return h.pricing
}

// DebitAsync prices the upload and debits it in a goroutine. It returns
// immediately; failures are logged and reported to the mismatch callback.
func (h *Hook) DebitAsync(userID, assetID, reference string, files int, story bool) {
	debit := Debit{
		UserID:    userID,
		AssetID:   assetID,
		Amount:    h.pricing.Amount(files, story),
		Files:     files,
		Story:     story,
		Reference: reference,
	}
	if debit.Amount <= 0 {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(h.base, h.timeout)
		defer cancel()

		if err := h.ledger.Debit(ctx, debit); err != nil {
			h.logger.Warn("credit debit failed",
				slog.String("user_id", debit.UserID),
				slog.String("asset_id", debit.AssetID),
				slog.Int("amount", debit.Amount),
				slog.Bool("balance_mismatch", true),
				slog.String("error", err.Error()))
			if h.onMismatch != nil {
				h.onMismatch(debit, err)
			}
			return
		}
		h.logger.Debug("credit debited",
			slog.String("user_id", debit.UserID),
			slog.Int("amount", debit.Amount))
	}()
}

// Wait blocks until every pending debit has finished.
func (h *Hook) Wait() {
	h.wg.Wait()
}
