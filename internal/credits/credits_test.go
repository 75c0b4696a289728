package credits

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/httpclient"
)

type recordingLedger struct {
	mu     sync.Mutex
	debits []Debit
	err    error
}

func (l *recordingLedger) Debit(_ context.Context, d Debit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debits = append(l.debits, d)
	return l.err
}

func TestPricing_Amount(t *testing.T) {
	p := Pricing{PerFile: DefaultPerFile, StoryExtra: DefaultStoryExtra}

	tests := []struct {
		name  string
		files int
		story bool
		want  int
	}{
		{"single file", 1, false, 1},
		{"three files", 3, false, 3},
		{"three files with story", 3, true, 5},
		{"story only", 0, true, 2},
		{"negative count", -2, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Amount(tt.files, tt.story))
		})
	}
}

func TestHook_DebitAsync(t *testing.T) {
	ledger := &recordingLedger{}
	hook := NewHook(context.Background(), ledger, Pricing{PerFile: 1, StoryExtra: 2}, time.Second)

	hook.DebitAsync("user-1", "asset-1", "job-1", 3, true)
	hook.Wait()

	require.Len(t, ledger.debits, 1)
	assert.Equal(t, Debit{
		UserID:    "user-1",
		AssetID:   "asset-1",
		Amount:    5,
		Files:     3,
		Story:     true,
		Reference: "job-1",
	}, ledger.debits[0])
}

func TestHook_FailureReportsMismatch(t *testing.T) {
	ledger := &recordingLedger{err: errors.New("ledger down")}

	var (
		mu     sync.Mutex
		missed []Debit
	)
	hook := NewHook(context.Background(), ledger, Pricing{PerFile: 1}, time.Second).
		OnMismatch(func(d Debit, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.EqualError(t, err, "ledger down")
			missed = append(missed, d)
		})

	hook.DebitAsync("user-1", "asset-1", "job-1", 2, false)
	hook.Wait()

	require.Len(t, missed, 1)
	assert.Equal(t, 2, missed[0].Amount)
}

func TestHook_SkipsZeroAmount(t *testing.T) {
	ledger := &recordingLedger{}
	hook := NewHook(context.Background(), ledger, Pricing{}, time.Second)

	hook.DebitAsync("user-1", "asset-1", "job-1", 4, true)
	hook.Wait()
	assert.Empty(t, ledger.debits)
}

func TestHook_OutlivesCallerContext(t *testing.T) {
	released := make(chan struct{})
	var sawErr error
	ledger := ledgerFunc(func(ctx context.Context, _ Debit) error {
		<-released
		sawErr = ctx.Err()
		return nil
	})

	base, cancel := context.WithCancel(context.Background())
	hook := NewHook(base, ledger, Pricing{PerFile: 1}, time.Second)
	hook.DebitAsync("user-1", "asset-1", "job-1", 1, false)

	cancel()
	close(released)
	hook.Wait()
	assert.NoError(t, sawErr)
}

type ledgerFunc func(ctx context.Context, d Debit) error

func (f ledgerFunc) Debit(ctx context.Context, d Debit) error { return f(ctx, d) }

func TestHTTPLedger_Debit(t *testing.T) {
	var got Debit
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-9", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ledger, err := NewHTTPLedger(server.URL, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Debit(context.Background(), Debit{UserID: "u1", Amount: 3, Reference: "job-9"}))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 3, got.Amount)
}

func TestHTTPLedger_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient balance", http.StatusPaymentRequired)
	}))
	defer server.Close()

	ledger, err := NewHTTPLedger(server.URL, nil)
	require.NoError(t, err)

	err = ledger.Debit(context.Background(), Debit{UserID: "u1", Amount: 1})
	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusPaymentRequired, statusErr.StatusCode)
}

func TestNewHTTPLedger_RequiresURL(t *testing.T) {
	_, err := NewHTTPLedger("", nil)
	assert.ErrorIs(t, err, ErrLedgerURLRequired)
}

func TestNewHookFromConfig(t *testing.T) {
	hook, err := NewHookFromConfig(context.Background(), config.CreditsConfig{
		PerFile:    1,
		StoryExtra: 2,
		Timeout:    time.Second,
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, NopLedger{}, hook.ledger)
	assert.Equal(t, Pricing{PerFile: 1, StoryExtra: 2}, hook.Pricing())

	_, err = NewHookFromConfig(context.Background(), config.CreditsConfig{Enabled: true}, nil)
	assert.ErrorIs(t, err, ErrLedgerURLRequired)

	hook, err = NewHookFromConfig(context.Background(), config.CreditsConfig{
		Enabled:   true,
		LedgerURL: "http://ledger.local/debits",
		PerFile:   1,
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPLedger{}, hook.ledger)
}

func TestNewHTTPLedger_RejectsInvalidURL(t *testing.T) {
	_, err := NewHTTPLedger("ftp://ledger.local/debits", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
