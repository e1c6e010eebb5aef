package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/keyring"
)

func openKeyring(configPath string) (*keyring.Keyring, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return keyring.New(filepath.Join(cfg.Global.StoreDir, "keys"))
}

func keysCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the relayer signing keys",
	}

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Generate a new key and print its mnemonic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := openKeyring(*configPath)
			if err != nil {
				return err
			}
			mnemonic, err := kr.Generate(args[0])
			if err != nil {
				return err
			}
			key, err := kr.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:        %s\n", args[0])
			fmt.Fprintf(out, "eth address: %s\n", key.EthAddress())
			fmt.Fprintf(out, "ckb args:    0x%x\n", key.CkbLockArgs())
			fmt.Fprintf(out, "\nWrite down the mnemonic, it is shown only once:\n\n%s\n", mnemonic)
			return nil
		},
	}

	var (
		mnemonic string
		hexKey   string
	)
	importCmd := &cobra.Command{
		Use:   "import <name>",
		Short: "Import a key from a mnemonic or a hex private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (mnemonic == "") == (hexKey == "") {
				return fmt.Errorf("pass exactly one of --mnemonic and --hex")
			}
			kr, err := openKeyring(*configPath)
			if err != nil {
				return err
			}
			if mnemonic != "" {
				err = kr.ImportMnemonic(args[0], mnemonic)
			} else {
				err = kr.ImportHex(args[0], hexKey)
			}
			if err != nil {
				return err
			}
			key, err := kr.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%s)\n", args[0], key.EthAddress())
			return nil
		},
	}
	importCmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP39 mnemonic")
	importCmd.Flags().StringVar(&hexKey, "hex", "", "hex-encoded secp256k1 private key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kr, err := openKeyring(*configPath)
			if err != nil {
				return err
			}
			names, err := kr.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				key, err := kr.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t0x%x\n", name, key.EthAddress(), key.CkbLockArgs())
			}
			return nil
		},
	}

	cmd.AddCommand(add, importCmd, list)
	return cmd
}
