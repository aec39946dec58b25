package testsupport

import (
	"context"
	"testing"

	"jobtrail/internal/config"
	"jobtrail/internal/ledger"
	"jobtrail/internal/record"
)

// MustOpenLedger opens a ledger.Store in the config's ledger directory and
// registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg.Paths.LedgerDir, ledger.OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustClaim records an open job owning outputs.
func MustClaim(t testing.TB, store *ledger.Store, jobID string, rec *record.Record) {
	t.Helper()

	err := store.RecordClaim(context.Background(), ledger.Claim{
		JobID:    jobID,
		Message:  record.ShortCommand(rec.Command),
		Record:   rec,
		Names:    rec.Outputs,
		Prefixes: ledger.ComputeLockedPrefixes(rec.Outputs),
	})
	if err != nil {
		t.Fatalf("store.RecordClaim: %v", err)
	}
}
