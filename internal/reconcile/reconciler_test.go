package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kvsync/internal/logging"
	"github.com/systmms/kvsync/internal/secure"
	"github.com/systmms/kvsync/internal/vault"
)

func newTestReconciler(f *vault.Fake) *Reconciler {
	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	return New(f, logger,
		WithSettleTimeout(100*time.Millisecond),
		WithPollInterval(time.Millisecond),
	)
}

func desired(name, value string) DesiredSecret {
	return DesiredSecret{Name: name, Value: secure.NewValue(value)}
}

func TestRunCreatesIntoEmptyVault(t *testing.T) {
	f := vault.NewFake()
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("A", "Server=x;Database=devFoo;"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Purged)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, report.Verified)
	assert.Empty(t, report.MissingAfterVerify)

	_, value, err := f.GetActive(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Server=x;Database=devFoo;", value)
}

func TestRunReplacesExistingSecret(t *testing.T) {
	f := vault.NewFake()
	f.AddSecret("A", "Server=x;Database=devFoo;")
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("A", "Server=x;Database=devBar;"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Created)
	assert.Empty(t, report.Failed)

	_, value, err := f.GetActive(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Server=x;Database=devBar;", value)
}

func TestRunIsIdempotent(t *testing.T) {
	f := vault.NewFake()
	r := newTestReconciler(f)
	ctx := context.Background()

	set := []DesiredSecret{
		desired("A", "value-a"),
		desired("B", "value-b"),
	}
	legacy := []string{"Old"}
	f.AddSecret("Old", "stale")

	first, err := r.Run(ctx, set, legacy)
	require.NoError(t, err)
	assert.Equal(t, 1, first.LegacyRemoved)
	assert.Equal(t, 2, first.Created)

	second, err := r.Run(ctx, set, legacy)
	require.NoError(t, err)
	assert.Equal(t, 0, second.LegacyRemoved) // already retired
	assert.Empty(t, second.Failed)
	assert.Empty(t, second.MissingAfterVerify)

	for name, want := range map[string]string{"A": "value-a", "B": "value-b"} {
		_, value, err := f.GetActive(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, value)
	}
}

func TestRunIsolatesPerNameFailures(t *testing.T) {
	f := vault.NewFake()
	f.FailOn(vault.OpSet, "X", fmt.Errorf("simulated service error"))
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("A", "a"),
		desired("X", "x"),
		desired("B", "b"),
	}, nil)
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "X", report.Failed[0].Name)
	assert.Contains(t, report.Failed[0].Reason, "simulated service error")
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Verified)
	assert.Equal(t, []string{"X"}, report.MissingAfterVerify)

	assert.Equal(t, "active", f.State("A"))
	assert.Equal(t, "active", f.State("B"))
	assert.Equal(t, "absent", f.State("X"))
}

func TestRunPurgesSoftDeletedRemnant(t *testing.T) {
	f := vault.NewFake()
	f.AddSoftDeleted("A")
	f.PurgeLag = 2 // purge settles only after a couple of polls
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("A", "fresh"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, report.Failed)

	_, value, err := f.GetActive(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
}

func TestRunRetiresLegacyWithoutPurging(t *testing.T) {
	f := vault.NewFake()
	f.AddSecret("LegacyConn", "old-value")
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("NewConn", "new-value"),
	}, []string{"LegacyConn"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.LegacyRemoved)
	// Retired, not purged: the remnant stays queryable in soft-deleted state.
	assert.Equal(t, "soft-deleted", f.State("LegacyConn"))

	names, err := f.ListSecretNames(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, names, "LegacyConn")
}

func TestRunLegacyDeleteFailureDoesNotAbort(t *testing.T) {
	f := vault.NewFake()
	f.AddSecret("Old", "x")
	f.FailOn(vault.OpDelete, "Old", fmt.Errorf("simulated delete failure"))
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("A", "a"),
	}, []string{"Old"})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "Old", report.Failed[0].Name)
	assert.Equal(t, 1, report.Created)
}

func TestRunConflictGetsRemnantHint(t *testing.T) {
	f := vault.NewFake()
	f.AddSoftDeleted("A")
	// Purge never completes, so the create hits soft-delete protection.
	f.FailOn(vault.OpPurge, "A", fmt.Errorf("purge forbidden by policy"))
	r := newTestReconciler(f)

	report, err := r.Run(context.Background(), []DesiredSecret{
		desired("A", "v"),
	}, nil)
	require.NoError(t, err)

	var reasons []string
	for _, failure := range report.Failed {
		assert.Equal(t, "A", failure.Name)
		reasons = append(reasons, failure.Reason)
	}
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[len(reasons)-1], "remnant not purged")
}

func TestRunAbortsWhenVaultUnauthorized(t *testing.T) {
	f := vault.NewFake()
	f.FailOn(vault.OpList, "", vault.AuthError{Backend: "fake", Err: fmt.Errorf("403")})
	r := newTestReconciler(f)

	_, err := r.Run(context.Background(), []DesiredSecret{desired("A", "a")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization failed")

	// Nothing was attempted beyond the probe.
	assert.Equal(t, []string{"list "}, f.Calls)
}

func TestRunAtMostOneCreateAttemptPerName(t *testing.T) {
	f := vault.NewFake()
	f.FailOn(vault.OpSet, "A", fmt.Errorf("transient"))
	r := newTestReconciler(f)

	_, err := r.Run(context.Background(), []DesiredSecret{desired("A", "a")}, nil)
	require.NoError(t, err)

	sets := 0
	for _, call := range f.Calls {
		if call == "set A" {
			sets++
		}
	}
	assert.Equal(t, 1, sets)
}

func TestPlan(t *testing.T) {
	f := vault.NewFake()
	f.AddSecret("Replace", "old")
	f.AddSoftDeleted("Remnant")
	f.AddSecret("Old", "legacy")
	r := newTestReconciler(f)

	actions, err := r.Plan(context.Background(), []DesiredSecret{
		desired("Replace", "new"),
		desired("Remnant", "new"),
		desired("Fresh", "new"),
	}, []string{"Old", "Gone"})
	require.NoError(t, err)

	got := make(map[string]string, len(actions))
	for _, a := range actions {
		got[a.Name] = a.Action
	}
	assert.Equal(t, map[string]string{
		"Old":     "retire legacy secret",
		"Replace": "replace existing secret",
		"Remnant": "purge remnant, then create",
		"Fresh":   "create",
	}, got)

	// Dry run never mutates.
	assert.Equal(t, "active", f.State("Replace"))
	assert.Equal(t, "soft-deleted", f.State("Remnant"))
	assert.Equal(t, "active", f.State("Old"))
}
