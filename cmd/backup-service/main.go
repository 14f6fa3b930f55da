package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/shaiss/mpc/api/clients"
	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/migration"
	"github.com/urfave/cli/v2"
)

var flagNodeURL *cli.StringFlag = &cli.StringFlag{
	Name:  "mpc-node-url",
	Value: "http://127.0.0.1:8080",
	Usage: "Node API address to request",
}
var flagNodeAccount *cli.StringFlag = &cli.StringFlag{
	Name:     "node-account",
	Usage:    "Ledger account of the node whose shares this service custodies",
	Required: true,
}
var flagSecretsFile *cli.StringFlag = &cli.StringFlag{
	Name:  "secrets-file",
	Value: "backup-secrets.json",
	Usage: "Path to the backup service keypair file",
}
var flagOutputFile *cli.StringFlag = &cli.StringFlag{
	Name:  "output-file",
	Value: "keyshares.json",
	Usage: "Path to write the recovered share package",
}
var flagSupersede *cli.BoolFlag = &cli.BoolFlag{
	Name:  "supersede",
	Value: false,
	Usage: "Replace an existing unused backup key registration",
}

// secretsFile holds the backup service's long-lived keypairs. The signing
// key authenticates export requests, the sealing key decrypts the response.
type secretsFile struct {
	SigningPubkey  string `json:"signing_pk"`
	SigningPrivkey string `json:"signing_sk"`
	SealingPubkey  string `json:"sealing_pk"`
	SealingPrivkey string `json:"sealing_sk"`
}

func loadSecrets(path string) (*secretsFile, ed25519.PrivateKey, cryptoutils.SealingPubkey, cryptoutils.SealingPrivkey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, cryptoutils.SealingPubkey{}, cryptoutils.SealingPrivkey{}, fmt.Errorf("failed to read secrets file: %w", err)
	}
	var secrets secretsFile
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, nil, cryptoutils.SealingPubkey{}, cryptoutils.SealingPrivkey{}, fmt.Errorf("failed to parse secrets file: %w", err)
	}

	signingSeed, err := hex.DecodeString(secrets.SigningPrivkey)
	if err != nil || len(signingSeed) != ed25519.SeedSize {
		return nil, nil, cryptoutils.SealingPubkey{}, cryptoutils.SealingPrivkey{}, fmt.Errorf("invalid signing_sk in %s", path)
	}
	signingKey := ed25519.NewKeyFromSeed(signingSeed)

	sealingPub, err := cryptoutils.NewSealingPubkeyFromHex(secrets.SealingPubkey)
	if err != nil {
		return nil, nil, cryptoutils.SealingPubkey{}, cryptoutils.SealingPrivkey{}, fmt.Errorf("invalid sealing_pk in %s: %w", path, err)
	}
	sealingRaw, err := hex.DecodeString(secrets.SealingPrivkey)
	if err != nil || len(sealingRaw) != 32 {
		return nil, nil, cryptoutils.SealingPubkey{}, cryptoutils.SealingPrivkey{}, fmt.Errorf("invalid sealing_sk in %s", path)
	}
	var sealingPriv cryptoutils.SealingPrivkey
	copy(sealingPriv[:], sealingRaw)

	return &secrets, signingKey, sealingPub, sealingPriv, nil
}

func main() {
	app := &cli.App{
		Name:  "backup-service",
		Usage: "Custody sealed key-share exports for a node",
		Commands: []*cli.Command{
			{
				Name:        "generate-keys",
				Usage:       "Generate the service's signing and sealing keypairs",
				Description: "Writes a secrets file with an Ed25519 signing keypair and an X25519 sealing keypair.",
				Flags: []cli.Flag{
					flagSecretsFile,
				},
				Action: func(cCtx *cli.Context) error {
					signingPub, signingPriv, err := cryptoutils.GenerateSigningKeypair()
					if err != nil {
						return err
					}
					sealingPub, sealingPriv, err := cryptoutils.GenerateSealingKeypair()
					if err != nil {
						return err
					}

					secrets := secretsFile{
						SigningPubkey:  signingPub.String(),
						SigningPrivkey: hex.EncodeToString(signingPriv.Seed()),
						SealingPubkey:  sealingPub.String(),
						SealingPrivkey: hex.EncodeToString(sealingPriv[:]),
					}
					raw, err := json.MarshalIndent(secrets, "", "  ")
					if err != nil {
						return err
					}

					path := cCtx.String(flagSecretsFile.Name)
					if err := os.WriteFile(path, raw, 0600); err != nil {
						return fmt.Errorf("failed to write secrets file: %w", err)
					}

					fmt.Printf("Wrote %s\n", path)
					fmt.Printf("Public signing key: %s\n", signingPub)
					return nil
				},
			},
			{
				Name:        "register",
				Usage:       "Register the service's signing key as a node's backup key",
				Description: "Registers the public signing key from the secrets file so the node accepts export requests signed by this service.",
				Flags: []cli.Flag{
					flagNodeURL,
					flagNodeAccount,
					flagSecretsFile,
					flagSupersede,
				},
				Action: func(cCtx *cli.Context) error {
					secrets, _, _, _, err := loadSecrets(cCtx.String(flagSecretsFile.Name))
					if err != nil {
						return err
					}
					account, err := interfaces.NewAccountID(cCtx.String(flagNodeAccount.Name))
					if err != nil {
						return err
					}

					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					if err := nodeClient.RegisterBackupInfo(cCtx.Context, account, secrets.SigningPubkey, cCtx.Bool(flagSupersede.Name)); err != nil {
						return err
					}

					fmt.Printf("Registered backup key for %s\n", account)
					return nil
				},
			},
			{
				Name:        "get-keyshares",
				Usage:       "Request, unseal and store the node's key shares",
				Description: "Requests a sealed export at the current epoch, opens it with the sealing key and writes the recovered share package to the output file.",
				Flags: []cli.Flag{
					flagNodeURL,
					flagNodeAccount,
					flagSecretsFile,
					flagOutputFile,
				},
				Action: func(cCtx *cli.Context) error {
					_, signingKey, sealingPub, sealingPriv, err := loadSecrets(cCtx.String(flagSecretsFile.Name))
					if err != nil {
						return err
					}
					account, err := interfaces.NewAccountID(cCtx.String(flagNodeAccount.Name))
					if err != nil {
						return err
					}

					nodeClient := clients.NewNodeClient(cCtx.String(flagNodeURL.Name))
					state, err := nodeClient.State(cCtx.Context)
					if err != nil {
						return err
					}

					req := migration.ExportRequest{
						Account:    account,
						Epoch:      state.Epoch,
						SealingKey: sealingPub,
					}
					req.Signature = ed25519.Sign(signingKey, req.SigningPayload())

					resp, err := nodeClient.Export(cCtx.Context, req)
					if err != nil {
						return err
					}

					plaintext, err := cryptoutils.OpenSealed(sealingPub, sealingPriv, resp.Sealed)
					if err != nil {
						return fmt.Errorf("failed to open sealed export: %w", err)
					}

					var pkg migration.SharePackage
					if err := json.Unmarshal(plaintext, &pkg); err != nil {
						return fmt.Errorf("failed to parse share package: %w", err)
					}
					if pkg.Account != account || pkg.Epoch != state.Epoch {
						return fmt.Errorf("share package is for %s at epoch %d, expected %s at epoch %d",
							pkg.Account, pkg.Epoch, account, state.Epoch)
					}

					path := cCtx.String(flagOutputFile.Name)
					if err := os.WriteFile(path, plaintext, 0600); err != nil {
						return fmt.Errorf("failed to write share package: %w", err)
					}

					fmt.Printf("Recovered %d domain shares for %s at epoch %d into %s\n",
						len(pkg.Shares), account, pkg.Epoch, path)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
