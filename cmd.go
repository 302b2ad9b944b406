package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
)

type RuntimeArguments struct {
	ConfigFilePath string
	LogLevel       string
	// JSON instead of YAML output.
	JSON bool
}

func NewRuntimeArguments() *RuntimeArguments {
	return &RuntimeArguments{}
}

func (arguments *RuntimeArguments) MakeCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "charms",
		Short: "Checks, proves and indexes Charms spells.",
		Long: `
		Charms command checks and proves spells, extracts spells from Bitcoin and Cardano transactions,
		and runs the spell indexer with its HTTP API.

		Configuration is read from "--config" (JSON or YAML) and from CHARMS_ environment variables,
		e.g. CHARMS_BITCOINRPC_PASSWORD.
		`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(arguments.ConfigFilePath)
			if err != nil {
				return err
			}
			if arguments.LogLevel != "" {
				cfg.Log.Level = arguments.LogLevel
			}
			if err := logs.Init(cfg.Log); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			GlobalConfig = *cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&arguments.ConfigFilePath, "config", "c", "", "Path of the config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&arguments.LogLevel, "log-level", "", "Log level, overrides log.level")

	rootCmd.AddCommand(
		arguments.spellCmd(),
		arguments.txCmd(),
		arguments.appCmd(),
		arguments.serverCmd(),
		arguments.finalityCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version of the binary.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version, gitHash)
		},
	}
}

// readSpell reads a source spell in YAML or JSON.
func readSpell(path string) (*spell.Spell, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var s spell.Spell
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse spell: %w", err)
	}
	return &s, nil
}

func readPrevTxs(chain string, hexes []string) ([]ledger.Tx, error) {
	txs := make([]ledger.Tx, 0, len(hexes))
	for _, h := range hexes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		var tx ledger.Tx
		var err error
		if chain == "" {
			tx, err = ledger.FromHex(h)
		} else {
			var c ledger.Chain
			if c, err = ledger.ParseChain(chain); err == nil {
				tx, err = ledger.ParseTx(c, h)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse prev tx: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func readBinaries(paths []string) ([][]byte, error) {
	bins := make([][]byte, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		bins = append(bins, raw)
	}
	return bins, nil
}

func (arguments *RuntimeArguments) print(w io.Writer, v interface{}) error {
	if arguments.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

func decodeHexOrBase64(s string) ([]byte, error) {
	if raw, err := hex.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
