package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/vault"
)

// runSecret manages the encrypted secrets plugins reference through
// "secret:" custom settings.
func runSecret(args []string) error {
	if len(args) == 0 {
		printSecretUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Path == "" || cfg.Store.Path == ":memory:" {
		return fmt.Errorf("secrets require a file-backed store, got %q", cfg.Store.Path)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return secretList(db)
	case "set":
		return secretSet(db, requireVault(), args[1:])
	case "get":
		return secretGet(db, requireVault(), args[1:])
	case "delete":
		return secretDelete(db, args[1:])
	default:
		printSecretUsage()
		return fmt.Errorf("unknown secret command: %s", args[0])
	}
}

func requireVault() *vault.Vault {
	passphrase := os.Getenv("SMINOS_VAULT_PASSPHRASE")
	if passphrase == "" {
		fmt.Fprintln(os.Stderr, "Error: SMINOS_VAULT_PASSPHRASE environment variable is required")
		os.Exit(1)
	}
	return vault.New(passphrase)
}

func printSecretUsage() {
	fmt.Fprintf(os.Stderr, `Usage: sminos secret <command>

Commands:
  list                                       List all secrets (metadata only)
  set <name> --value <str> [--description <text>]   Store a secret
  get <name>                                 Print a secret's value
  delete <name>                              Delete a secret
`)
}

func secretList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, sec := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", sec.Name, sec.Description, sec.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func secretSet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("secret name is required")
	}
	name := args[0]

	var value, description string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--value":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for --value")
			}
			i++
			value = args[i]
		case "--description":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for --description")
			}
			i++
			description = args[i]
		}
	}
	if value == "" {
		return fmt.Errorf("--value is required")
	}

	ciphertext, nonce, err := v.Encrypt([]byte(value))
	if err != nil {
		return err
	}

	if err := db.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	}); err != nil {
		return err
	}

	fmt.Printf("Secret %s stored.\n", name)
	return nil
}

func secretGet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("secret name is required")
	}
	name := args[0]

	sec, err := db.GetSecret(name)
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %s not found", name)
	}

	plaintext, err := v.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return err
	}
	fmt.Println(string(plaintext))
	return nil
}

func secretDelete(db *store.Store, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("secret name is required")
	}
	name := args[0]

	if err := db.DeleteSecret(name); err != nil {
		return err
	}
	fmt.Printf("Secret %s deleted.\n", name)
	return nil
}
