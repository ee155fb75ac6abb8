// Package reconcile drives a vault's secret set toward a declared desired
// state. The procedure runs in four ordered phases, each completing across
// all names before the next begins: legacy retirement, soft-delete purging,
// active-secret clearing, and creation, followed by a verification pass.
// Later phases assume earlier phases have cleared conflicting vault states,
// so the ordering is a correctness requirement.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/kvsync/internal/logging"
	"github.com/systmms/kvsync/internal/secure"
	"github.com/systmms/kvsync/internal/vault"
)

// DesiredSecret pairs a secret name with its target value, held sealed until
// the moment of the vault write.
type DesiredSecret struct {
	Name  string
	Value *secure.Value
}

// Failure records a per-name error. Failures never abort the run; every
// other name is still processed in every phase.
type Failure struct {
	Name   string
	Reason string
}

// Report summarizes a reconcile run for the operator.
type Report struct {
	LegacyRemoved      int
	Purged             int
	Updated            int // existing secrets cleared for replacement
	Created            int // secrets that did not exist before
	Verified           int
	Failed             []Failure
	MissingAfterVerify []string
}

// PlannedAction describes what a dry run would do for one name.
type PlannedAction struct {
	Name   string
	Action string
}

const (
	defaultSettleTimeout = 30 * time.Second
	defaultPollInterval  = 2 * time.Second
)

// Reconciler holds the vault handle and settling configuration for a run.
// The vault is the single source of truth: state is re-queried before every
// action and never cached across phases.
type Reconciler struct {
	vault         vault.Client
	logger        *logging.Logger
	settleTimeout time.Duration
	pollInterval  time.Duration
}

// Option is a functional option for the Reconciler.
type Option func(*Reconciler)

// WithSettleTimeout bounds how long a settling wait polls for a delete or
// purge to become visible.
func WithSettleTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.settleTimeout = d
	}
}

// WithPollInterval sets the delay between settling polls.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.pollInterval = d
	}
}

// New creates a Reconciler.
func New(v vault.Client, logger *logging.Logger, opts ...Option) *Reconciler {
	InitMetrics()
	r := &Reconciler{
		vault:         v,
		logger:        logger,
		settleTimeout: defaultSettleTimeout,
		pollInterval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (rep *Report) fail(name string, err error) {
	rep.Failed = append(rep.Failed, Failure{Name: name, Reason: err.Error()})
}

// Run executes the full reconcile procedure. Per-name errors are recorded in
// the report and never abort the run; only an unreachable or unauthorized
// vault returns an error, before any phase acts.
func (r *Reconciler) Run(ctx context.Context, desired []DesiredSecret, legacyNames []string) (*Report, error) {
	// Authorization probe. A vault we cannot list is a vault we cannot
	// safely mutate.
	if _, err := r.vault.ListSecretNames(ctx); err != nil {
		recordRun("aborted")
		if vault.IsAuth(err) {
			return nil, fmt.Errorf("vault authorization failed: %w", err)
		}
		return nil, fmt.Errorf("vault unavailable: %w", err)
	}

	report := &Report{}

	r.retireLegacy(ctx, legacyNames, report)
	r.purgeRemnants(ctx, desired, report)
	cleared := r.clearActive(ctx, desired, report)
	r.createSecrets(ctx, desired, cleared, report)
	r.verify(ctx, desired, report)

	recordOutcome("legacy_removed", report.LegacyRemoved)
	recordOutcome("purged", report.Purged)
	recordOutcome("updated", report.Updated)
	recordOutcome("created", report.Created)
	recordOutcome("failed", len(report.Failed))
	if len(report.Failed) > 0 || len(report.MissingAfterVerify) > 0 {
		recordRun("partial")
	} else {
		recordRun("success")
	}

	return report, nil
}

// retireLegacy deletes active copies of superseded names. Legacy names are
// retired, never purged: their soft-deleted remnants do not share names with
// desired secrets and may sit in the vault indefinitely.
func (r *Reconciler) retireLegacy(ctx context.Context, legacyNames []string, report *Report) {
	for _, name := range legacyNames {
		_, _, err := r.vault.GetActive(ctx, name)
		if vault.IsNotFound(err) {
			r.logger.Debug("Legacy secret %s not active, nothing to retire", name)
			continue
		}
		if err != nil {
			report.fail(name, err)
			continue
		}
		if err := r.vault.DeleteSecret(ctx, name); err != nil {
			report.fail(name, err)
			continue
		}
		r.logger.Info("Retired legacy secret %s", name)
		report.LegacyRemoved++
	}
}

// purgeRemnants removes soft-deleted remnants occupying desired names. The
// vault refuses to create an active secret under a name with a remnant, so
// this phase is a precondition for creation, not optional cleanup.
func (r *Reconciler) purgeRemnants(ctx context.Context, desired []DesiredSecret, report *Report) {
	var purged []string
	for _, d := range desired {
		_, err := r.vault.GetSoftDeleted(ctx, d.Name)
		if vault.IsNotFound(err) {
			continue
		}
		if err != nil {
			report.fail(d.Name, err)
			continue
		}
		if err := r.vault.PurgeSecret(ctx, d.Name); err != nil {
			report.fail(d.Name, err)
			continue
		}
		r.logger.Info("Purged soft-deleted remnant of %s", d.Name)
		report.Purged++
		purged = append(purged, d.Name)
	}

	// Purge acknowledgment does not mean the name is free yet.
	for _, name := range purged {
		r.waitUntilGone(ctx, name, r.vault.GetSoftDeleted)
	}
}

// clearActive deletes and immediately purges desired names that already hold
// an active secret. Purge failure is tolerated: some vault configurations
// disallow immediate purges, and the phase-4 create then fails distinctly.
// Returns the set of names that were cleared.
func (r *Reconciler) clearActive(ctx context.Context, desired []DesiredSecret, report *Report) map[string]bool {
	cleared := make(map[string]bool)
	for _, d := range desired {
		_, _, err := r.vault.GetActive(ctx, d.Name)
		if vault.IsNotFound(err) {
			continue
		}
		if err != nil {
			report.fail(d.Name, err)
			continue
		}
		if err := r.vault.DeleteSecret(ctx, d.Name); err != nil {
			report.fail(d.Name, err)
			continue
		}
		report.Updated++
		cleared[d.Name] = true

		if err := r.vault.PurgeSecret(ctx, d.Name); err != nil {
			r.logger.Warn("Immediate purge of %s failed (%v); create may be refused until the remnant clears", d.Name, err)
			continue
		}
		r.waitUntilGone(ctx, d.Name, r.vault.GetSoftDeleted)
	}
	return cleared
}

// createSecrets writes every desired value. At most one create attempt per
// name per run; retry policy belongs to the caller, who can safely re-run
// the whole procedure.
func (r *Reconciler) createSecrets(ctx context.Context, desired []DesiredSecret, cleared map[string]bool, report *Report) {
	for _, d := range desired {
		value, err := d.Value.Reveal()
		if err != nil {
			report.fail(d.Name, err)
			continue
		}
		if err := r.vault.SetSecret(ctx, d.Name, value); err != nil {
			if vault.IsConflict(err) {
				err = fmt.Errorf("%w (likely cause: soft-deleted remnant not purged yet)", err)
			}
			report.fail(d.Name, err)
			continue
		}
		r.logger.Info("Set secret %s", d.Name)
		if !cleared[d.Name] {
			report.Created++
		}
	}
}

// verify re-lists active names and reports any desired name missing from the
// vault, guarding against eventually-consistent list APIs and failures not
// surfaced synchronously.
func (r *Reconciler) verify(ctx context.Context, desired []DesiredSecret, report *Report) {
	names, err := r.vault.ListSecretNames(ctx)
	if err != nil {
		r.logger.Warn("Verification listing failed: %v", err)
		return
	}
	active := make(map[string]bool, len(names))
	for _, name := range names {
		active[name] = true
	}
	for _, d := range desired {
		if active[d.Name] {
			report.Verified++
		} else {
			report.MissingAfterVerify = append(report.MissingAfterVerify, d.Name)
		}
	}
	sort.Strings(report.MissingAfterVerify)
}

// waitUntilGone polls a state query until it reports absence or the settle
// timeout elapses. Delete and purge acknowledgments are asynchronous on the
// vault side, so this wait must separate them from any dependent create.
func (r *Reconciler) waitUntilGone(ctx context.Context, name string, query func(context.Context, string) (vault.Metadata, error)) {
	deadline := time.Now().Add(r.settleTimeout)
	for {
		_, err := query(ctx, name)
		if vault.IsNotFound(err) {
			return
		}
		if err != nil {
			r.logger.Debug("Settling poll for %s errored: %v", name, err)
		}
		if time.Now().After(deadline) {
			recordSettleTimeout()
			r.logger.Warn("Timed out waiting for %s to settle; continuing", name)
			return
		}
		select {
		case <-ctx.Done():
			r.logger.Warn("Settling wait for %s canceled: %v", name, ctx.Err())
			return
		case <-time.After(r.pollInterval):
		}
	}
}

// Plan queries vault state and reports what a run would do, without mutating
// anything.
func (r *Reconciler) Plan(ctx context.Context, desired []DesiredSecret, legacyNames []string) ([]PlannedAction, error) {
	if _, err := r.vault.ListSecretNames(ctx); err != nil {
		return nil, fmt.Errorf("vault unavailable: %w", err)
	}

	var actions []PlannedAction
	for _, name := range legacyNames {
		_, _, err := r.vault.GetActive(ctx, name)
		switch {
		case err == nil:
			actions = append(actions, PlannedAction{Name: name, Action: "retire legacy secret"})
		case vault.IsNotFound(err):
			// already retired
		default:
			actions = append(actions, PlannedAction{Name: name, Action: "error: " + err.Error()})
		}
	}

	for _, d := range desired {
		if _, err := r.vault.GetSoftDeleted(ctx, d.Name); err == nil {
			actions = append(actions, PlannedAction{Name: d.Name, Action: "purge remnant, then create"})
			continue
		} else if !vault.IsNotFound(err) {
			actions = append(actions, PlannedAction{Name: d.Name, Action: "error: " + err.Error()})
			continue
		}
		_, _, err := r.vault.GetActive(ctx, d.Name)
		switch {
		case err == nil:
			actions = append(actions, PlannedAction{Name: d.Name, Action: "replace existing secret"})
		case vault.IsNotFound(err):
			actions = append(actions, PlannedAction{Name: d.Name, Action: "create"})
		default:
			actions = append(actions, PlannedAction{Name: d.Name, Action: "error: " + err.Error()})
		}
	}
	return actions, nil
}
