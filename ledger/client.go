package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
)

// ErrNoTransactOpts is returned when a state-changing operation is
// attempted without first setting transaction options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

// clusterRegistryABI is the ABI of the cluster-state contract. Snapshots
// and attempt histories travel as JSON blobs; the scalar epoch/state pair
// is kept alongside so the contract can enforce compare-and-swap writes
// and revert stale ones.
const clusterRegistryABI = `[
  {"type":"function","name":"clusterState","stateMutability":"view","inputs":[],"outputs":[{"name":"snapshot","type":"bytes"}]},
  {"type":"function","name":"participantSetAt","stateMutability":"view","inputs":[{"name":"epoch","type":"uint64"}],"outputs":[{"name":"exists","type":"bool"},{"name":"parameters","type":"bytes"}]},
  {"type":"function","name":"publishTransition","stateMutability":"nonpayable","inputs":[{"name":"expectEpoch","type":"uint64"},{"name":"expectState","type":"uint8"},{"name":"nextEpoch","type":"uint64"},{"name":"nextState","type":"uint8"},{"name":"snapshot","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"attempts","stateMutability":"view","inputs":[{"name":"epoch","type":"uint64"},{"name":"domain","type":"uint32"}],"outputs":[{"name":"records","type":"bytes"}]},
  {"type":"function","name":"reserveAttempt","stateMutability":"nonpayable","inputs":[{"name":"epoch","type":"uint64"},{"name":"domain","type":"uint32"},{"name":"attempt","type":"uint64"},{"name":"coordinator","type":"string"}],"outputs":[]},
  {"type":"function","name":"completeAttempt","stateMutability":"nonpayable","inputs":[{"name":"epoch","type":"uint64"},{"name":"domain","type":"uint32"},{"name":"attempt","type":"uint64"},{"name":"coordinator","type":"string"}],"outputs":[]},
  {"type":"function","name":"abandonAttempt","stateMutability":"nonpayable","inputs":[{"name":"epoch","type":"uint64"},{"name":"domain","type":"uint32"},{"name":"attempt","type":"uint64"},{"name":"coordinator","type":"string"}],"outputs":[]},
  {"type":"function","name":"registerBackupInfo","stateMutability":"nonpayable","inputs":[{"name":"account","type":"string"},{"name":"publicKey","type":"bytes32"},{"name":"supersede","type":"bool"}],"outputs":[]},
  {"type":"function","name":"backupInfo","stateMutability":"view","inputs":[{"name":"account","type":"string"}],"outputs":[{"name":"exists","type":"bool"},{"name":"publicKey","type":"bytes32"}]},
  {"type":"function","name":"recordMigration","stateMutability":"nonpayable","inputs":[{"name":"account","type":"string"},{"name":"epoch","type":"uint64"},{"name":"digest","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"migration","stateMutability":"view","inputs":[{"name":"account","type":"string"},{"name":"epoch","type":"uint64"}],"outputs":[{"name":"exists","type":"bool"},{"name":"digest","type":"bytes32"}]}
]`

// ContractLedger implements interfaces.StateLedger against the
// cluster-state contract.
type ContractLedger struct {
	contract *bind.BoundContract
	backend  bind.DeployBackend
	address  common.Address
	auth     *bind.TransactOpts
}

// ContractBackend is the combined backend a ContractLedger needs: calls,
// transactions and receipt lookups. *ethclient.Client satisfies it.
type ContractBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// NewContractLedger creates a ledger client for the contract at the given
// address.
func NewContractLedger(backend ContractBackend, address common.Address) (*ContractLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(clusterRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse cluster registry ABI: %w", err)
	}
	return &ContractLedger{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		address:  address,
	}, nil
}

// SetTransactOpts sets the transaction options required for operations
// that modify state. Must be called before any state-changing method.
func (c *ContractLedger) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

// mapRevert translates the contract's revert reasons into the shared error
// taxonomy so callers handle onchain and in-memory ledgers identically.
func mapRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for substr, sentinel := range map[string]error{
		"stale write":        interfaces.ErrStaleWrite,
		"attempt conflict":   interfaces.ErrAttemptConflict,
		"attempt completed":  interfaces.ErrAttemptCompleted,
		"already registered": interfaces.ErrAlreadyRegistered,
		"already exported":   interfaces.ErrAlreadyExported,
	} {
		if strings.Contains(msg, substr) {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}
	return err
}

func (c *ContractLedger) transact(ctx context.Context, method string, params ...interface{}) error {
	if c.auth == nil {
		return ErrNoTransactOpts
	}
	opts := *c.auth
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return mapRevert(err)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return fmt.Errorf("failed waiting for %s transaction: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s transaction %s reverted", method, tx.Hash())
	}
	return nil
}

// ClusterState returns the current authoritative snapshot.
func (c *ContractLedger) ClusterState(ctx context.Context) (*interfaces.ClusterState, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "clusterState"); err != nil {
		return nil, err
	}
	raw := out[0].([]byte)
	var state interfaces.ClusterState
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("failed to decode cluster state snapshot: %w", err)
		}
	}
	return &state, nil
}

// ParticipantSetAt returns the participant set authoritative at an epoch.
func (c *ContractLedger) ParticipantSetAt(ctx context.Context, epoch interfaces.Epoch) (*interfaces.ParticipantSet, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "participantSetAt", uint64(epoch)); err != nil {
		return nil, err
	}
	if !out[0].(bool) {
		return nil, fmt.Errorf("%w: no participant set for epoch %d", interfaces.ErrInvalidEpoch, epoch)
	}
	var set interfaces.ParticipantSet
	if err := json.Unmarshal(out[1].([]byte), &set); err != nil {
		return nil, fmt.Errorf("failed to decode participant set: %w", err)
	}
	return &set, nil
}

// PublishTransition submits a compare-and-swap state transition.
func (c *ContractLedger) PublishTransition(ctx context.Context, expect interfaces.StateRef, next interfaces.ClusterState) error {
	snapshot, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode cluster state snapshot: %w", err)
	}
	return c.transact(ctx, "publishTransition",
		uint64(expect.Epoch), uint8(expect.State),
		uint64(next.Epoch), uint8(next.State), snapshot)
}

// Attempts returns the attempt history for (epoch, domain).
func (c *ContractLedger) Attempts(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID) ([]interfaces.AttemptRecord, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "attempts", uint64(epoch), uint32(domain)); err != nil {
		return nil, err
	}
	raw := out[0].([]byte)
	if len(raw) == 0 {
		return nil, nil
	}
	var records []interfaces.AttemptRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode attempt records: %w", err)
	}
	return records, nil
}

// ReserveAttempt claims an attempt id for a coordinator.
func (c *ContractLedger) ReserveAttempt(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	return c.transact(ctx, "reserveAttempt", uint64(epoch), uint32(domain), uint64(attempt), string(coordinator))
}

// CompleteAttempt marks an attempt as completed.
func (c *ContractLedger) CompleteAttempt(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	return c.transact(ctx, "completeAttempt", uint64(epoch), uint32(domain), uint64(attempt), string(coordinator))
}

// AbandonAttempt burns a reserved attempt id.
func (c *ContractLedger) AbandonAttempt(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	return c.transact(ctx, "abandonAttempt", uint64(epoch), uint32(domain), uint64(attempt), string(coordinator))
}

// RegisterBackupInfo records a backup-custody service key.
func (c *ContractLedger) RegisterBackupInfo(ctx context.Context, account interfaces.AccountID, info interfaces.BackupServiceInfo, supersede bool) error {
	var key [32]byte
	copy(key[:], info.PublicKey.Bytes())
	return c.transact(ctx, "registerBackupInfo", string(account), key, supersede)
}

// BackupInfo returns an account's registered backup service key.
func (c *ContractLedger) BackupInfo(ctx context.Context, account interfaces.AccountID) (*interfaces.BackupServiceInfo, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "backupInfo", string(account)); err != nil {
		return nil, err
	}
	if !out[0].(bool) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBackupInfoNotRegistered, account)
	}
	raw := out[1].([32]byte)
	key, err := cryptoutils.NewBackupPubkeyFromBytes(raw[:])
	if err != nil {
		return nil, err
	}
	return &interfaces.BackupServiceInfo{PublicKey: key}, nil
}

// RecordMigration durably acknowledges a key-share export.
func (c *ContractLedger) RecordMigration(ctx context.Context, rec interfaces.MigrationRecord) error {
	return c.transact(ctx, "recordMigration", string(rec.Account), uint64(rec.Epoch), rec.ExportDigest)
}

// Migration returns the export record for (account, epoch), or nil.
func (c *ContractLedger) Migration(ctx context.Context, account interfaces.AccountID, epoch interfaces.Epoch) (*interfaces.MigrationRecord, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "migration", string(account), uint64(epoch)); err != nil {
		return nil, err
	}
	if !out[0].(bool) {
		return nil, nil
	}
	return &interfaces.MigrationRecord{
		Account:      account,
		Epoch:        epoch,
		ExportDigest: out[1].([32]byte),
	}, nil
}

var _ interfaces.StateLedger = (*ContractLedger)(nil)
