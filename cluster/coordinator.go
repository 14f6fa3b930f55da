package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/shaiss/mpc/attempts"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/metrics"
)

// Prober verifies a keyset is actually usable after a transition.
type Prober interface {
	Probe(ctx context.Context, keyset interfaces.Keyset) error
}

// EpochCommitter receives the share distributions of a completed epoch.
// The in-process share dealer implements it; networked runtimes hold their
// shares themselves and don't need one.
type EpochCommitter interface {
	CommitEpoch(epoch interfaces.Epoch, set interfaces.ParticipantSet, results []*interfaces.DomainShares)
}

// Config tunes the coordinator.
type Config struct {
	// Coordinator is this node's ledger identity, used for attempt
	// reservations.
	Coordinator interfaces.AccountID

	// MaxAttempts bounds key-event retries per domain before the run is
	// given up.
	MaxAttempts int

	// AttemptTimeout bounds one key-event attempt.
	AttemptTimeout time.Duration

	// RequireMigrationProof rejects resharings that drop a participant
	// without a recorded key-share export at the current epoch.
	RequireMigrationProof bool
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	return cfg
}

// Coordinator drives the cluster state machine against the ledger.
type Coordinator struct {
	cfg      Config
	ledger   interfaces.StateLedger
	resharer interfaces.ShareResharer
	signer   interfaces.ThresholdSigner
	attempts *attempts.Ledger
	log      *slog.Logger

	prober    Prober
	committer EpochCommitter
}

// NewCoordinator creates a coordinator acting as cfg.Coordinator.
func NewCoordinator(cfg Config, store interfaces.StateLedger, resharer interfaces.ShareResharer, signer interfaces.ThresholdSigner, log *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		ledger:   store,
		resharer: resharer,
		signer:   signer,
		attempts: attempts.NewLedger(store, cfg.Coordinator),
		log:      log,
	}
}

// SetProber installs the post-transition liveness prober.
func (c *Coordinator) SetProber(p Prober) { c.prober = p }

// SetCommitter installs the share committer for in-process share dealers.
func (c *Coordinator) SetCommitter(ec EpochCommitter) { c.committer = ec }

// State returns the current authoritative cluster snapshot.
func (c *Coordinator) State(ctx context.Context) (*interfaces.ClusterState, error) {
	return c.ledger.ClusterState(ctx)
}

// runDomain drives one domain's key event to completion through the
// attempt ledger, retrying with fresh attempt ids up to MaxAttempts.
func (c *Coordinator) runDomain(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID,
	run func(ctx context.Context) (*interfaces.DomainShares, error)) (*interfaces.DomainShares, interfaces.AttemptID, error) {

	// A completed attempt from an interrupted coordinator is authoritative;
	// re-derive the shares without touching the attempt history.
	records, err := c.ledger.Attempts(ctx, epoch, domain)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read attempt records: %w", err)
	}
	if done, ok := attempts.Completed(records); ok {
		result, err := run(ctx)
		if err != nil {
			return nil, 0, err
		}
		return result, done.Attempt, nil
	}

	var lastErr error
	for try := 0; try < c.cfg.MaxAttempts; try++ {
		attemptID, err := c.attempts.ReserveNext(ctx, epoch, domain)
		if err != nil {
			return nil, 0, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		result, err := run(attemptCtx)
		cancel()
		if err != nil {
			metrics.AttemptsTotal.WithLabelValues("abandoned").Inc()
			c.log.Warn("key event attempt failed",
				"epoch", epoch, "domain", domain, "attempt", attemptID, "err", err)
			if abandonErr := c.attempts.Abandon(ctx, epoch, domain, attemptID); abandonErr != nil {
				return nil, 0, fmt.Errorf("failed to abandon attempt %d: %w", attemptID, abandonErr)
			}
			lastErr = err
			// Unavailability and key mismatches won't heal with a retry.
			if errors.Is(err, interfaces.ErrInsufficientOldParticipants) ||
				errors.Is(err, interfaces.ErrPublicKeyChanged) {
				return nil, 0, err
			}
			continue
		}
		if err := c.attempts.Complete(ctx, epoch, domain, attemptID); err != nil {
			return nil, 0, fmt.Errorf("failed to complete attempt %d: %w", attemptID, err)
		}
		metrics.AttemptsTotal.WithLabelValues("completed").Inc()
		return result, attemptID, nil
	}
	return nil, 0, fmt.Errorf("domain %d gave up after %d attempts: %w", domain, c.cfg.MaxAttempts, lastErr)
}

type domainResult struct {
	shares  *interfaces.DomainShares
	attempt interfaces.AttemptID
}

// runDomains drives every domain's key event concurrently. It returns the
// per-domain results or the combined failure.
func (c *Coordinator) runDomains(ctx context.Context, epoch interfaces.Epoch, domains []interfaces.DomainID,
	run func(ctx context.Context, domain interfaces.DomainID) (*interfaces.DomainShares, error)) (map[interfaces.DomainID]domainResult, error) {

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		merr    *multierror.Error
		results = make(map[interfaces.DomainID]domainResult, len(domains))
	)
	for _, domain := range domains {
		wg.Add(1)
		go func(domain interfaces.DomainID) {
			defer wg.Done()
			shares, attemptID, err := c.runDomain(ctx, epoch, domain, func(ctx context.Context) (*interfaces.DomainShares, error) {
				return run(ctx, domain)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierror.Append(merr, err)
				return
			}
			results[domain] = domainResult{shares: shares, attempt: attemptID}
		}(domain)
	}
	wg.Wait()
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return results, nil
}

func keysetFrom(results map[interfaces.DomainID]domainResult) interfaces.Keyset {
	domains := make([]interfaces.DomainID, 0, len(results))
	for domain := range results {
		domains = append(domains, domain)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	keyset := make(interfaces.Keyset, 0, len(results))
	for _, domain := range domains {
		res := results[domain]
		keyset = append(keyset, interfaces.KeyInfo{
			Domain:    domain,
			PublicKey: res.shares.PublicKey,
			AttemptID: res.attempt,
		})
	}
	return keyset
}

func sharesFrom(results map[interfaces.DomainID]domainResult) []*interfaces.DomainShares {
	out := make([]*interfaces.DomainShares, 0, len(results))
	for _, res := range results {
		out = append(out, res.shares)
	}
	return out
}

// publish pushes a transition and records it.
func (c *Coordinator) publish(ctx context.Context, expect interfaces.StateRef, next interfaces.ClusterState) error {
	if err := c.ledger.PublishTransition(ctx, expect, next); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(next.State.String()).Inc()
	c.log.Info("published cluster transition",
		"from_state", expect.State, "from_epoch", expect.Epoch,
		"to_state", next.State, "to_epoch", next.Epoch)
	return nil
}

// commitAndProbe installs the new distribution and verifies it end to end.
// The transition is already durable; a probe failure is surfaced as a
// LivenessError alongside the published state.
func (c *Coordinator) commitAndProbe(ctx context.Context, state *interfaces.ClusterState, results map[interfaces.DomainID]domainResult) error {
	if c.committer != nil {
		c.committer.CommitEpoch(state.Epoch, state.Participants, sharesFrom(results))
	}
	if c.prober == nil {
		return nil
	}
	if err := c.prober.Probe(ctx, state.Keyset); err != nil {
		metrics.ProbeFailuresTotal.Inc()
		c.log.Error("post-transition liveness probe failed", "epoch", state.Epoch, "err", err)
		return err
	}
	return nil
}

// InitCluster generates the initial keys for the given domains and moves
// the cluster from initializing to running at epoch 0. It can be re-run
// after a crash; completed domains are picked up, not regenerated. On
// failure the cluster stays initializing.
func (c *Coordinator) InitCluster(ctx context.Context, set interfaces.ParticipantSet, domains []interfaces.DomainID) (*interfaces.ClusterState, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: no domains to initialize", interfaces.ErrUnknownDomain)
	}
	state, err := c.ledger.ClusterState(ctx)
	if err != nil {
		return nil, err
	}
	if state.State != interfaces.StateInitializing {
		return nil, fmt.Errorf("%w: cluster is %s", interfaces.ErrConflictingReconfiguration, state.State)
	}

	results, err := c.runDomains(ctx, state.Epoch, domains, func(ctx context.Context, domain interfaces.DomainID) (*interfaces.DomainShares, error) {
		return c.resharer.GenerateDomain(ctx, domain, set)
	})
	if err != nil {
		return nil, fmt.Errorf("initial key generation failed: %w", err)
	}

	next := interfaces.ClusterState{
		State:        interfaces.StateRunning,
		Epoch:        state.Epoch,
		Participants: set,
		Keyset:       keysetFrom(results),
	}
	if err := c.publish(ctx, state.Ref(), next); err != nil {
		return nil, err
	}
	if err := c.commitAndProbe(ctx, &next, results); err != nil {
		return &next, err
	}
	return &next, nil
}

// validateReshare checks a reconfiguration request against the current
// snapshot before any state change.
func (c *Coordinator) validateReshare(ctx context.Context, state *interfaces.ClusterState, next interfaces.ParticipantSet, prospectiveEpoch interfaces.Epoch) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if prospectiveEpoch != state.Epoch+1 {
		return fmt.Errorf("%w: prospective epoch %d, current epoch %d", interfaces.ErrInvalidEpoch, prospectiveEpoch, state.Epoch)
	}
	if !c.cfg.RequireMigrationProof {
		return nil
	}
	for _, account := range state.Participants.MissingFrom(next) {
		rec, err := c.ledger.Migration(ctx, account, state.Epoch)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s has no key-share export at epoch %d", interfaces.ErrMigrationProofRequired, account, state.Epoch)
		}
	}
	return nil
}

// sameReconfiguration reports whether an in-flight resharing matches the
// requested one, allowing an interrupted run to be resumed.
func sameReconfiguration(state *interfaces.ClusterState, next interfaces.ParticipantSet, prospectiveEpoch interfaces.Epoch) bool {
	if state.Prospective == nil || state.ProspectiveEpoch != prospectiveEpoch {
		return false
	}
	if state.Prospective.Threshold != next.Threshold || len(state.Prospective.Members) != len(next.Members) {
		return false
	}
	for _, p := range next.Members {
		if !state.Prospective.Contains(p.Account) {
			return false
		}
	}
	return true
}

// Reshare reconfigures the cluster to a new participant set and threshold
// at prospectiveEpoch. Every domain is reshared or none is: on success the
// cluster runs at the new epoch under unchanged public keys; a key change
// or exhausted retries halt the cluster; unreachable old participants leave
// it running unchanged.
func (c *Coordinator) Reshare(ctx context.Context, next interfaces.ParticipantSet, prospectiveEpoch interfaces.Epoch) (*interfaces.ClusterState, error) {
	state, err := c.ledger.ClusterState(ctx)
	if err != nil {
		return nil, err
	}

	switch state.State {
	case interfaces.StateRunning:
		if err := c.validateReshare(ctx, state, next, prospectiveEpoch); err != nil {
			return nil, err
		}
		available, err := c.resharer.AvailableOldParticipants(ctx, state.Participants)
		if err != nil {
			return nil, err
		}
		if available < state.Participants.Threshold {
			return nil, fmt.Errorf("%w: %d of %d required old participants reachable",
				interfaces.ErrInsufficientOldParticipants, available, state.Participants.Threshold)
		}
		resharing := *state
		resharing.State = interfaces.StateResharing
		resharing.ProspectiveEpoch = prospectiveEpoch
		resharing.Prospective = &next
		if err := c.publish(ctx, state.Ref(), resharing); err != nil {
			return nil, err
		}
		state = &resharing
	case interfaces.StateResharing:
		if !sameReconfiguration(state, next, prospectiveEpoch) {
			return nil, fmt.Errorf("%w: a different resharing to epoch %d is in flight",
				interfaces.ErrConflictingReconfiguration, state.ProspectiveEpoch)
		}
	case interfaces.StateHalted:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrClusterHalted, state.HaltReason)
	default:
		return nil, fmt.Errorf("%w: cluster is %s", interfaces.ErrClusterNotRunning, state.State)
	}

	return c.runReshare(ctx, state)
}

// runReshare drives an in-flight resharing snapshot to its outcome.
func (c *Coordinator) runReshare(ctx context.Context, state *interfaces.ClusterState) (*interfaces.ClusterState, error) {
	old := state.Participants
	next := *state.Prospective

	results, err := c.runDomains(ctx, state.ProspectiveEpoch, state.Keyset.Domains(), func(ctx context.Context, domain interfaces.DomainID) (*interfaces.DomainShares, error) {
		shares, err := c.resharer.ReshareDomain(ctx, domain, old, next)
		if err != nil {
			return nil, err
		}
		expected, err := state.Keyset.ForDomain(domain)
		if err != nil {
			return nil, err
		}
		if shares.PublicKey != expected.PublicKey {
			return nil, fmt.Errorf("%w: domain %d produced %s, expected %s",
				interfaces.ErrPublicKeyChanged, domain, shares.PublicKey, expected.PublicKey)
		}
		return shares, nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrInsufficientOldParticipants) {
			// Not enough resharing input; back out without an epoch change.
			// The reconfiguration must be re-triggered once enough old
			// participants are reachable.
			reverted := *state
			reverted.State = interfaces.StateRunning
			reverted.ProspectiveEpoch = 0
			reverted.Prospective = nil
			if pubErr := c.publish(ctx, state.Ref(), reverted); pubErr != nil {
				return nil, pubErr
			}
			return &reverted, err
		}
		return nil, c.halt(ctx, state, fmt.Sprintf("resharing to epoch %d failed: %v", state.ProspectiveEpoch, err), err)
	}

	completed := interfaces.ClusterState{
		State:        interfaces.StateRunning,
		Epoch:        state.ProspectiveEpoch,
		Participants: next,
		Keyset:       keysetFrom(results),
	}
	if err := c.publish(ctx, state.Ref(), completed); err != nil {
		return nil, err
	}
	if err := c.commitAndProbe(ctx, &completed, results); err != nil {
		return &completed, err
	}
	return &completed, nil
}

// halt publishes the terminal halted state, preserving cause when the
// publish itself fails.
func (c *Coordinator) halt(ctx context.Context, state *interfaces.ClusterState, reason string, cause error) error {
	halted := *state
	halted.State = interfaces.StateHalted
	halted.HaltReason = reason
	if err := c.publish(ctx, state.Ref(), halted); err != nil {
		return multierror.Append(cause, err)
	}
	return multierror.Append(fmt.Errorf("%w: %s", interfaces.ErrClusterHalted, reason), cause)
}

// Halt moves the cluster to the terminal halted state.
func (c *Coordinator) Halt(ctx context.Context, reason string) error {
	state, err := c.ledger.ClusterState(ctx)
	if err != nil {
		return err
	}
	if state.State == interfaces.StateHalted {
		return nil
	}
	halted := *state
	halted.State = interfaces.StateHalted
	halted.HaltReason = reason
	return c.publish(ctx, state.Ref(), halted)
}

// gate rejects requests unless the cluster is running and the domain has a
// key.
func (c *Coordinator) gate(ctx context.Context, domain interfaces.DomainID) error {
	state, err := c.ledger.ClusterState(ctx)
	if err != nil {
		return err
	}
	switch state.State {
	case interfaces.StateRunning:
	case interfaces.StateHalted:
		metrics.RejectedRequestsTotal.WithLabelValues("halted").Inc()
		return fmt.Errorf("%w: %s", interfaces.ErrClusterHalted, state.HaltReason)
	default:
		metrics.RejectedRequestsTotal.WithLabelValues(state.State.String()).Inc()
		return fmt.Errorf("%w: cluster is %s", interfaces.ErrClusterNotRunning, state.State)
	}
	if _, err := state.Keyset.ForDomain(domain); err != nil {
		metrics.RejectedRequestsTotal.WithLabelValues("unknown_domain").Inc()
		return err
	}
	return nil
}

// Sign produces a signature over payload under the domain's key, gated on
// the cluster state.
func (c *Coordinator) Sign(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	if err := c.gate(ctx, domain); err != nil {
		return nil, err
	}
	return c.signer.Sign(ctx, domain, payload)
}

// DeriveKey produces a confidential derived key bound to payload under the
// domain's key, gated on the cluster state.
func (c *Coordinator) DeriveKey(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	if err := c.gate(ctx, domain); err != nil {
		return nil, err
	}
	return c.signer.DeriveKey(ctx, domain, payload)
}
