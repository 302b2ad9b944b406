package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"

	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/finality"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
)

func (arguments *RuntimeArguments) txCmd() *cobra.Command {
	txCmd := &cobra.Command{
		Use:   "tx",
		Short: "Inspects ledger transactions.",
	}

	var chain, txHex string
	showCmd := &cobra.Command{
		Use:   "show-spell",
		Short: "Extracts, verifies and prints the spell of a transaction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := GlobalConfig.Registry()
			if err != nil {
				return err
			}
			txs, err := readPrevTxs(chain, []string{txHex})
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				return fmt.Errorf("--tx is required")
			}
			ns, err := txs[0].ExtractAndVerify(registry)
			if err != nil {
				return fmt.Errorf("no verified spell in %s: %w", txs[0].TxId(), err)
			}
			return arguments.print(cmd.OutOrStdout(), spell.Denormalize(ns))
		},
	}
	showCmd.Flags().StringVar(&chain, "chain", "", "Ledger of the transaction, detected when empty")
	showCmd.Flags().StringVar(&txHex, "tx", "", "Hex of the transaction")
	showCmd.Flags().BoolVar(&arguments.JSON, "json", false, "Print JSON instead of YAML")

	txCmd.AddCommand(showCmd)
	return txCmd
}

type appRunOutput struct {
	App   string `json:"app" yaml:"app"`
	Steps uint64 `json:"steps" yaml:"steps"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (arguments *RuntimeArguments) appCmd() *cobra.Command {
	appCmd := &cobra.Command{
		Use:   "app",
		Short: "Inspects and runs app binaries.",
	}

	vkCmd := &cobra.Command{
		Use:   "vk <binary>",
		Short: "Prints the verification key of an app binary.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), apprunner.VK(raw))
			return nil
		},
	}

	var run checkArguments
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs every given app binary against the spell and reports each outcome.",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := GlobalConfig.Registry()
			if err != nil {
				return err
			}
			req, err := run.request()
			if err != nil {
				return err
			}
			prev, err := ledger.NewResolver(registry).Resolve(cmd.Context(), req.PrevTxs)
			if err != nil {
				return err
			}
			tx, err := spell.ToTx(req.Spell, prev, req.Hints)
			if err != nil {
				return err
			}
			runner, err := apprunner.New(cmd.Context())
			if err != nil {
				return err
			}
			defer runner.Close(cmd.Context())

			var outs []appRunOutput
			for _, app := range req.Spell.Apps() {
				binary, ok := req.AppBinaries[app.VK]
				if !ok {
					continue
				}
				steps, err := runner.Run(cmd.Context(), binary, app, tx, req.Spell.AppPublicInputs[app], req.PrivateInputs[app], req.Budget)
				out := appRunOutput{App: app.String(), Steps: steps}
				if err != nil {
					out.Error = err.Error()
				}
				outs = append(outs, out)
			}
			return arguments.print(cmd.OutOrStdout(), outs)
		},
	}
	run.bind(runCmd)
	runCmd.Flags().BoolVar(&arguments.JSON, "json", false, "Print JSON instead of YAML")

	appCmd.AddCommand(vkCmd, runCmd)
	return appCmd
}

func (arguments *RuntimeArguments) finalityCmd() *cobra.Command {
	finalityCmd := &cobra.Command{
		Use:   "finality",
		Short: "Checks Bitcoin transaction inclusion.",
	}

	var headerHex, proofHex, txidStr string
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verifies a merkle block proof of a transaction against a block header.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawHeader, err := decodeHexOrBase64(headerHex)
			if err != nil {
				return fmt.Errorf("invalid header: %w", err)
			}
			var header wire.BlockHeader
			if err := header.Deserialize(bytes.NewReader(rawHeader)); err != nil {
				return fmt.Errorf("invalid header: %w", err)
			}
			rawProof, err := hex.DecodeString(proofHex)
			if err != nil {
				return fmt.Errorf("invalid proof: %w", err)
			}
			txid, err := charms.ParseTxId(txidStr)
			if err != nil {
				return err
			}
			if err := finality.VerifyInclusion(&header, rawProof, txid); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is included in block %s\n", txid, header.BlockHash())
			return nil
		},
	}
	verifyCmd.Flags().StringVar(&headerHex, "header", "", "Hex of the 80-byte block header")
	verifyCmd.Flags().StringVar(&proofHex, "proof", "", "Hex of the merkle block, as returned by gettxoutproof")
	verifyCmd.Flags().StringVar(&txidStr, "txid", "", "Transaction id")

	finalityCmd.AddCommand(verifyCmd)
	return finalityCmd
}
