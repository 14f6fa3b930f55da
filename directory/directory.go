package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiss/mpc/interfaces"
)

// Entry is one participant with its derived membership status.
type Entry struct {
	Participant interfaces.Participant       `json:"participant"`
	Status      interfaces.ParticipantStatus `json:"-"`
	StatusName  string                       `json:"status"`
}

// Directory derives participant membership from the ledger.
type Directory struct {
	ledger interfaces.StateLedger
	log    *slog.Logger
}

// New creates a directory over the given ledger.
func New(ledger interfaces.StateLedger, log *slog.Logger) *Directory {
	return &Directory{ledger: ledger, log: log}
}

func status(state *interfaces.ClusterState, account interfaces.AccountID) (interfaces.ParticipantStatus, bool) {
	current := state.Participants.Contains(account)
	var prospective bool
	if state.Prospective != nil {
		prospective = state.Prospective.Contains(account)
	}
	switch {
	case current && state.Prospective != nil && !prospective:
		return interfaces.ParticipantLeaving, true
	case current:
		return interfaces.ParticipantActive, true
	case prospective:
		return interfaces.ParticipantJoining, true
	default:
		return 0, false
	}
}

// Participant returns the record and derived status for an account.
// An account in the current set is active, or leaving when a prospective
// set excludes it; an account only in the prospective set is joining.
func (d *Directory) Participant(ctx context.Context, account interfaces.AccountID) (interfaces.Participant, interfaces.ParticipantStatus, error) {
	state, err := d.ledger.ClusterState(ctx)
	if err != nil {
		return interfaces.Participant{}, 0, fmt.Errorf("failed to read cluster state: %w", err)
	}
	st, ok := status(state, account)
	if !ok {
		return interfaces.Participant{}, 0, fmt.Errorf("%w: %s", interfaces.ErrNodeNotFound, account)
	}
	if st == interfaces.ParticipantJoining {
		p, err := state.Prospective.ByAccount(account)
		return p, st, err
	}
	p, err := state.Participants.ByAccount(account)
	return p, st, err
}

// Participants lists every known participant with its status: the current
// set plus any joining members of a prospective set.
func (d *Directory) Participants(ctx context.Context) ([]Entry, error) {
	state, err := d.ledger.ClusterState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster state: %w", err)
	}
	var entries []Entry
	for _, p := range state.Participants.Members {
		st, _ := status(state, p.Account)
		entries = append(entries, Entry{Participant: p, Status: st, StatusName: st.String()})
	}
	if state.Prospective != nil {
		for _, p := range state.Prospective.Members {
			if state.Participants.Contains(p.Account) {
				continue
			}
			entries = append(entries, Entry{
				Participant: p,
				Status:      interfaces.ParticipantJoining,
				StatusName:  interfaces.ParticipantJoining.String(),
			})
		}
	}
	return entries, nil
}

// RegisterBackupInfo records a backup-custody service key for a known
// participant. Unknown accounts are rejected; the one-time and supersede
// rules are enforced by the ledger.
func (d *Directory) RegisterBackupInfo(ctx context.Context, account interfaces.AccountID, info interfaces.BackupServiceInfo, supersede bool) error {
	state, err := d.ledger.ClusterState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cluster state: %w", err)
	}
	if _, ok := status(state, account); !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrNodeNotFound, account)
	}
	if err := d.ledger.RegisterBackupInfo(ctx, account, info, supersede); err != nil {
		return err
	}
	d.log.Info("registered backup service key",
		"account", account, "public_key", info.PublicKey.String(), "supersede", supersede)
	return nil
}

// MigrationInfo returns an account's migration state: the registered
// backup key, if any, and whether an export completed at the current epoch.
func (d *Directory) MigrationInfo(ctx context.Context, account interfaces.AccountID) (*interfaces.MigrationInfo, error) {
	state, err := d.ledger.ClusterState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster state: %w", err)
	}
	if _, ok := status(state, account); !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNodeNotFound, account)
	}
	info := &interfaces.MigrationInfo{}
	backup, err := d.ledger.BackupInfo(ctx, account)
	if err == nil {
		info.BackupServiceInfo = backup
	} else if !errors.Is(err, interfaces.ErrBackupInfoNotRegistered) {
		return nil, err
	}
	rec, err := d.ledger.Migration(ctx, account, state.Epoch)
	if err != nil {
		return nil, err
	}
	info.ActiveMigration = rec != nil
	return info, nil
}
