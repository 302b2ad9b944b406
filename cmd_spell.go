package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/cobra"

	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/checker"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/proof"
	"github.com/RiemaLabs/charms-indexer/spell"
)

type checkArguments struct {
	SpellPath string
	PrevTxs   []string
	AppBins   []string
	Chain     string
	MaxSteps  uint64
	Timeout   time.Duration
}

func (a *checkArguments) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.SpellPath, "spell", "-", "Path of the spell (YAML or JSON), - for stdin")
	cmd.Flags().StringSliceVar(&a.PrevTxs, "prev-txs", nil, "Hex of the prerequisite transactions")
	cmd.Flags().StringSliceVar(&a.AppBins, "app-bins", nil, "Paths of the app binaries")
	cmd.Flags().StringVar(&a.Chain, "chain", "", "Ledger of the prerequisite transactions, detected when empty")
	cmd.Flags().Uint64Var(&a.MaxSteps, "max-steps", 0, "Step budget of each app, app.maxSteps when 0")
	cmd.Flags().DurationVar(&a.Timeout, "timeout", 0, "Wall clock budget of each app, app.timeout when 0")
}

// request assembles a checker request from the flags.
func (a *checkArguments) request() (*checker.Request, error) {
	s, err := readSpell(a.SpellPath)
	if err != nil {
		return nil, err
	}
	prevTxs, err := readPrevTxs(a.Chain, a.PrevTxs)
	if err != nil {
		return nil, err
	}
	bins, err := readBinaries(a.AppBins)
	if err != nil {
		return nil, err
	}
	req, err := checker.NewRequest(s, prevTxs, bins)
	if err != nil {
		return nil, err
	}
	req.Budget = GlobalConfig.App
	if a.MaxSteps != 0 {
		req.Budget.MaxSteps = a.MaxSteps
	}
	if a.Timeout != 0 {
		req.Budget.Timeout = a.Timeout
	}
	req.Budget = req.Budget.OrDefault()
	return req, nil
}

// newChecker returns a checker and a function releasing its runner.
func newChecker(ctx context.Context, registry *proof.Registry) (*checker.Checker, func(), error) {
	runner, err := apprunner.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := runner.Close(context.Background()); err != nil {
			logs.Warnf("Failed to close the app runner due to %v", err)
		}
	}
	return checker.New(ledger.NewResolver(registry), runner), release, nil
}

type checkOutput struct {
	Apps  []string `json:"apps" yaml:"apps"`
	Steps []uint64 `json:"steps" yaml:"steps"`
}

func outputOf(report *checker.Report) checkOutput {
	out := checkOutput{Steps: report.Steps}
	for _, app := range report.Apps {
		out.Apps = append(out.Apps, app.String())
	}
	return out
}

func (arguments *RuntimeArguments) spellCmd() *cobra.Command {
	spellCmd := &cobra.Command{
		Use:   "spell",
		Short: "Checks and proves spells.",
	}

	var check checkArguments
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Checks the spell against its prerequisite transactions and apps.",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := GlobalConfig.Registry()
			if err != nil {
				return err
			}
			req, err := check.request()
			if err != nil {
				return err
			}
			c, release, err := newChecker(cmd.Context(), registry)
			if err != nil {
				return err
			}
			defer release()
			report, err := c.Check(cmd.Context(), req)
			if err != nil {
				return err
			}
			logs.Infof("Spell is correct")
			return arguments.print(cmd.OutOrStdout(), outputOf(report))
		},
	}
	check.bind(checkCmd)
	checkCmd.Flags().BoolVar(&arguments.JSON, "json", false, "Print JSON instead of YAML")

	var prove checkArguments
	var pkPath, csPath, internalKey string
	proveCmd := &cobra.Command{
		Use:   "prove",
		Short: "Checks the spell and prints the payload to embed in its transaction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pkPath == "" {
				pkPath = GlobalConfig.Proof.ProvingKey
			}
			if csPath == "" {
				csPath = GlobalConfig.Proof.ConstraintSystem
			}
			registry, err := GlobalConfig.Registry()
			if err != nil {
				return err
			}
			prover, err := proof.LoadProver(spell.CurrentVersion, csPath, pkPath)
			if err != nil {
				return err
			}
			req, err := prove.request()
			if err != nil {
				return err
			}
			c, release, err := newChecker(cmd.Context(), registry)
			if err != nil {
				return err
			}
			defer release()
			payload, _, err := checker.NewProver(c, registry, prover).Prove(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := map[string]string{"payload": hex.EncodeToString(payload)}
			if internalKey != "" {
				raw, err := hex.DecodeString(internalKey)
				if err != nil {
					return err
				}
				key, err := btcec.ParsePubKey(raw)
				if err != nil {
					return fmt.Errorf("invalid internal key: %w", err)
				}
				script := ledger.SpellScript(payload, key)
				commit, err := ledger.SpellCommitScript(script, key)
				if err != nil {
					return err
				}
				out["script"] = hex.EncodeToString(script)
				out["commit_pk_script"] = hex.EncodeToString(commit)
			}
			if prove.Chain == string(ledger.Cardano) {
				datum, err := ledger.SpellDatum(payload)
				if err != nil {
					return err
				}
				out["datum"] = hex.EncodeToString(datum)
			}
			return arguments.print(cmd.OutOrStdout(), out)
		},
	}
	prove.bind(proveCmd)
	proveCmd.Flags().StringVar(&pkPath, "proving-key", "", "Path of the proving key, overrides proof.provingKey")
	proveCmd.Flags().StringVar(&csPath, "constraint-system", "", "Path of the constraint system, overrides proof.constraintSystem")
	proveCmd.Flags().StringVar(&internalKey, "internal-key", "", "Hex of the Taproot internal key for the Bitcoin spell script")
	proveCmd.Flags().BoolVar(&arguments.JSON, "json", false, "Print JSON instead of YAML")

	var out string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Generates development proving and verifying keys for the current version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := proof.Setup(spell.CurrentVersion)
			if err != nil {
				return err
			}
			if err := keys.Save(out); err != nil {
				return err
			}
			vk, err := keys.VerifyingKeyBytes()
			if err != nil {
				return err
			}
			logs.Infof("Saved keys for version %d to %s", spell.CurrentVersion, out)
			fmt.Fprintln(cmd.OutOrStdout(), proof.ContentVK(vk))
			return nil
		},
	}
	setupCmd.Flags().StringVar(&out, "out", "./keys", "Directory of the generated keys")

	vkCmd := &cobra.Command{
		Use:   "vk",
		Short: "Prints the spell verification key of the current version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := GlobalConfig.Registry()
			if err != nil {
				return err
			}
			vk, err := registry.SpellVK(spell.CurrentVersion)
			if err != nil {
				return err
			}
			arguments.JSON = true
			return arguments.print(cmd.OutOrStdout(), map[string]interface{}{
				"version": spell.CurrentVersion,
				"vk":      vk,
			})
		},
	}

	spellCmd.AddCommand(checkCmd, proveCmd, setupCmd, vkCmd)
	return spellCmd
}
