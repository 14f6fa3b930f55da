package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/shaiss/mpc/api/clients"
	"github.com/shaiss/mpc/api/clusterhandler"
	"github.com/shaiss/mpc/interfaces"
	"github.com/urfave/cli/v2"
)

var flagNodeURL *cli.StringFlag = &cli.StringFlag{
	Name:  "mpc-node-url",
	Value: "http://127.0.0.1:8080",
	Usage: "Node API address to request",
}
var flagParticipantsFile *cli.StringFlag = &cli.StringFlag{
	Name:  "participants-file",
	Value: "participants.json",
	Usage: "Path to JSON file with the participant list",
}
var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "signing threshold for the participant set",
}
var flagDomains *cli.Int64SliceFlag = &cli.Int64SliceFlag{
	Name:  "domain",
	Usage: "domain ids to generate keys for (repeatable)",
}
var flagProspectiveEpoch *cli.Uint64Flag = &cli.Uint64Flag{
	Name:  "prospective-epoch",
	Usage: "epoch of the proposed configuration (current epoch + 1)",
}
var flagHaltReason *cli.StringFlag = &cli.StringFlag{
	Name:  "reason",
	Value: "operator halt",
	Usage: "reason recorded with the halt",
}

func loadParticipants(path string) ([]interfaces.Participant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read participants file: %w", err)
	}
	var participants []interfaces.Participant
	if err := json.Unmarshal(raw, &participants); err != nil {
		return nil, fmt.Errorf("failed to parse participants file: %w", err)
	}
	return participants, nil
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func main() {
	app := &cli.App{
		Name:           "mpc-admin",
		Usage:          "Operate a signing cluster through a node's API",
		DefaultCommand: "state",
		Commands: []*cli.Command{
			{
				Name:  "state",
				Usage: "Print the current cluster state",
				Flags: []cli.Flag{
					flagNodeURL,
				},
				Action: func(cCtx *cli.Context) error {
					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					state, err := nodeClient.State(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(state)
				},
			},
			{
				Name:        "init-cluster",
				Usage:       "Generate the cluster's first keys",
				Description: "Runs initial key generation for the given domains over the participant set. Only valid before the cluster has ever run.",
				Flags: []cli.Flag{
					flagNodeURL,
					flagParticipantsFile,
					flagThreshold,
					flagDomains,
				},
				Action: func(cCtx *cli.Context) error {
					participants, err := loadParticipants(cCtx.String(flagParticipantsFile.Name))
					if err != nil {
						return err
					}

					domainIDs := cCtx.Int64Slice(flagDomains.Name)
					if len(domainIDs) == 0 {
						return fmt.Errorf("at least one --domain is required")
					}
					domains := make([]interfaces.DomainID, len(domainIDs))
					for i, id := range domainIDs {
						domains[i] = interfaces.DomainID(id)
					}

					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					state, err := nodeClient.InitCluster(cCtx.Context, clusterhandler.InitRequest{
						Participants: participants,
						Threshold:    cCtx.Int(flagThreshold.Name),
						Domains:      domains,
					})
					if err != nil {
						return err
					}
					return printJSON(state)
				},
			},
			{
				Name:        "reshare",
				Usage:       "Reconfigure the cluster to a new participant set",
				Description: "Proposes the participant set at prospective-epoch and waits for the resharing to finish. Public keys are unchanged on success.",
				Flags: []cli.Flag{
					flagNodeURL,
					flagParticipantsFile,
					flagThreshold,
					flagProspectiveEpoch,
				},
				Action: func(cCtx *cli.Context) error {
					participants, err := loadParticipants(cCtx.String(flagParticipantsFile.Name))
					if err != nil {
						return err
					}

					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					state, err := nodeClient.Reshare(cCtx.Context, clusterhandler.ReshareRequest{
						ProspectiveEpoch: interfaces.Epoch(cCtx.Uint64(flagProspectiveEpoch.Name)),
						Participants:     participants,
						Threshold:        cCtx.Int(flagThreshold.Name),
					})
					if err != nil {
						return err
					}
					return printJSON(state)
				},
			},
			{
				Name:        "halt",
				Usage:       "Move the cluster to the terminal halted state",
				Description: "Halting is permanent. Signing and resharing requests are rejected afterwards.",
				Flags: []cli.Flag{
					flagNodeURL,
					flagHaltReason,
				},
				Action: func(cCtx *cli.Context) error {
					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					state, err := nodeClient.Halt(cCtx.Context, cCtx.String(flagHaltReason.Name))
					if err != nil {
						return err
					}
					return printJSON(state)
				},
			},
			{
				Name:  "migration-info",
				Usage: "Print a node's backup registration and export state",
				Flags: []cli.Flag{
					flagNodeURL,
					&cli.StringFlag{
						Name:     "node-account",
						Usage:    "ledger account of the node",
						Required: true,
					},
				},
				Action: func(cCtx *cli.Context) error {
					account, err := interfaces.NewAccountID(cCtx.String("node-account"))
					if err != nil {
						return err
					}
					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					info, err := nodeClient.MigrationInfo(cCtx.Context, account)
					if err != nil {
						return err
					}
					return printJSON(info)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
