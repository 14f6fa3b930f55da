// Package prober verifies a freshly transitioned keyset end to end: one
// signature and one key derivation per domain, with the signature checked
// against the domain's published public key.
package prober

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiss/mpc/interfaces"
)

// Prober drives post-transition liveness probes through the signer.
type Prober struct {
	signer  interfaces.ThresholdSigner
	log     *slog.Logger
	timeout time.Duration
}

// New creates a prober with a per-domain probe timeout.
func New(signer interfaces.ThresholdSigner, log *slog.Logger, timeout time.Duration) *Prober {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Prober{signer: signer, log: log, timeout: timeout}
}

func (p *Prober) probeDomain(ctx context.Context, key interfaces.KeyInfo) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// A unique payload per probe keeps caches out of the protocol path.
	payload := []byte("liveness-probe-" + uuid.NewString())
	sig, err := p.signer.Sign(ctx, key.Domain, payload)
	if err != nil {
		return fmt.Errorf("signature probe: %w", err)
	}
	if !key.PublicKey.Verify(payload, sig) {
		return fmt.Errorf("signature probe produced an invalid signature for domain %d", key.Domain)
	}
	derived, err := p.signer.DeriveKey(ctx, key.Domain, payload)
	if err != nil {
		return fmt.Errorf("derivation probe: %w", err)
	}
	if len(derived) == 0 {
		return fmt.Errorf("derivation probe returned an empty key for domain %d", key.Domain)
	}
	return nil
}

// Probe exercises every domain in the keyset. It returns a LivenessError
// naming the failing domains, or nil when all domains answered.
func (p *Prober) Probe(ctx context.Context, keyset interfaces.Keyset) error {
	var (
		failed  []interfaces.DomainID
		lastErr error
	)
	for _, key := range keyset {
		if err := p.probeDomain(ctx, key); err != nil {
			p.log.Warn("liveness probe failed", "domain", key.Domain, "err", err)
			failed = append(failed, key.Domain)
			lastErr = err
		}
	}
	if len(failed) > 0 {
		return &interfaces.LivenessError{Domains: failed, Err: lastErr}
	}
	p.log.Debug("liveness probes passed", "domains", len(keyset))
	return nil
}
