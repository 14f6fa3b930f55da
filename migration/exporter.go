// Package migration implements the one-shot key-share export that lets a
// departing node hand its shares to its registered backup-custody service.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/metrics"
)

// ExportRequest asks for a node's current-epoch shares, sealed to the
// requester's ephemeral sealing key. The request is signed by the backup
// service key registered for the node.
type ExportRequest struct {
	Account    interfaces.AccountID     `json:"node_id"`
	Epoch      interfaces.Epoch         `json:"epoch"`
	SealingKey interfaces.SealingPubkey `json:"sealing_pk"`
	Signature  []byte                   `json:"signature"`
}

// SigningPayload returns the canonical bytes the backup service signs.
func (r ExportRequest) SigningPayload() []byte {
	return []byte(fmt.Sprintf("share-export:%s:%d:%s", r.Account, r.Epoch, r.SealingKey))
}

// SharePackage is the plaintext sealed to the backup service: one share
// per domain the node holds at the epoch.
type SharePackage struct {
	Account interfaces.AccountID           `json:"node_id"`
	Epoch   interfaces.Epoch               `json:"epoch"`
	Shares  map[interfaces.DomainID][]byte `json:"keyshares"`
	Keyset  map[interfaces.DomainID]string `json:"public_keys"`
}

// ExportResult is a completed export: the sealed package, its ledger
// record and, when a storage backend is configured, the blob location.
type ExportResult struct {
	Sealed   []byte
	Record   interfaces.MigrationRecord
	Location string
}

// Exporter serves authenticated key-share exports.
type Exporter struct {
	ledger  interfaces.StateLedger
	vault   interfaces.ShareVault
	storage interfaces.StorageBackend
	log     *slog.Logger
}

// NewExporter creates an exporter. storage may be nil; sealed packages are
// then returned inline only.
func NewExporter(ledger interfaces.StateLedger, vault interfaces.ShareVault, storage interfaces.StorageBackend, log *slog.Logger) *Exporter {
	return &Exporter{ledger: ledger, vault: vault, storage: storage, log: log}
}

// authorize validates the request against the ledger before any share
// material is touched.
func (e *Exporter) authorize(ctx context.Context, req ExportRequest) (*interfaces.ClusterState, error) {
	state, err := e.ledger.ClusterState(ctx)
	if err != nil {
		return nil, err
	}
	if !state.Participants.Contains(req.Account) {
		return nil, fmt.Errorf("%w: %s is not a current participant", interfaces.ErrNodeNotFound, req.Account)
	}
	if req.Epoch != state.Epoch {
		return nil, fmt.Errorf("%w: requested epoch %d, cluster at epoch %d", interfaces.ErrEpochMismatch, req.Epoch, state.Epoch)
	}
	info, err := e.ledger.BackupInfo(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	if !info.PublicKey.Verify(req.SigningPayload(), req.Signature) {
		return nil, fmt.Errorf("%w: export request signature does not verify against %s's backup service key",
			interfaces.ErrUnauthenticated, req.Account)
	}
	return state, nil
}

// Export seals the node's current-epoch shares to the request's sealing
// key and records the export on the ledger, at most once per epoch.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	state, err := e.authorize(ctx, req)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	shares, err := e.vault.NodeShares(ctx, req.Account, req.Epoch)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	pkg := SharePackage{
		Account: req.Account,
		Epoch:   req.Epoch,
		Shares:  shares,
		Keyset:  make(map[interfaces.DomainID]string, len(state.Keyset)),
	}
	for _, key := range state.Keyset {
		pkg.Keyset[key.Domain] = key.PublicKey.String()
	}
	plaintext, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode share package: %w", err)
	}
	sealed, err := cryptoutils.SealToPubkey(req.SealingKey, plaintext)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to seal share package: %w", err)
	}

	rec := interfaces.MigrationRecord{
		Account:      req.Account,
		Epoch:        req.Epoch,
		ExportDigest: sha256.Sum256(sealed),
	}
	// Recording before handing out the blob keeps the exactly-once
	// guarantee even if the response is lost.
	if err := e.ledger.RecordMigration(ctx, rec); err != nil {
		metrics.ExportsTotal.WithLabelValues("duplicate").Inc()
		return nil, err
	}

	result := &ExportResult{Sealed: sealed, Record: rec}
	if e.storage != nil {
		id := interfaces.ComputeID(sealed)
		if err := e.storage.Store(ctx, id, sealed); err != nil {
			// The export is recorded; losing the archival copy is not a
			// reason to fail the handover.
			e.log.Error("failed to archive sealed share package", "account", req.Account, "err", err)
		} else {
			result.Location = e.storage.LocationURI() + "/" + id.String()
		}
	}

	metrics.ExportsTotal.WithLabelValues("completed").Inc()
	e.log.Info("exported key shares",
		"account", req.Account, "epoch", req.Epoch, "domains", len(shares))
	return result, nil
}
