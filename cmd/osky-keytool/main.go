package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"opensky/crypto"
	"opensky/native/bespoke"
)

const usage = `osky-keytool manages keystore files and signs bespoke borrow offers.

Usage:
  osky-keytool new --keystore <path>
  osky-keytool address --keystore <path>
  osky-keytool sign-offer --keystore <path> --offer <offer.json> --chain-id <id>

The keystore passphrase is read from the terminal, or from the
OPENSKY_KEYSTORE_PASSPHRASE environment variable when stdin is not a tty.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "new":
		err = runNew(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "sign-offer":
		err = runSignOffer(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "osky-keytool: %v\n", err)
		os.Exit(1)
	}
}

func runNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	keystorePath := fs.String("keystore", "", "Path for the new keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keystorePath == "" {
		return fmt.Errorf("--keystore is required")
	}

	passphrase, err := readPassphrase(true)
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, passphrase); err != nil {
		return err
	}
	fmt.Printf("address: %s\nkeystore: %s\n", key.PubKey().Address(), *keystorePath)
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keystorePath := fs.String("keystore", "", "Path to the keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := unlock(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Println(key.PubKey().Address())
	return nil
}

func runSignOffer(args []string) error {
	fs := flag.NewFlagSet("sign-offer", flag.ExitOnError)
	keystorePath := fs.String("keystore", "", "Path to the keystore file")
	offerPath := fs.String("offer", "", "Path to the borrow offer JSON")
	chainID := fs.Uint64("chain-id", 1, "Ledger chain identifier the offer is bound to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *offerPath == "" {
		return fmt.Errorf("--offer is required")
	}

	raw, err := os.ReadFile(*offerPath)
	if err != nil {
		return err
	}
	var offer bespoke.BorrowOffer
	if err := json.Unmarshal(raw, &offer); err != nil {
		return fmt.Errorf("parse offer: %w", err)
	}

	key, err := unlock(*keystorePath)
	if err != nil {
		return err
	}
	if !offer.Borrower.Equal(key.PubKey().Address()) {
		return fmt.Errorf("offer borrower %s does not match keystore address %s", offer.Borrower, key.PubKey().Address())
	}

	sig, err := bespoke.Sign(offer, *chainID, key)
	if err != nil {
		return err
	}
	fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
	return nil
}

func unlock(keystorePath string) (*crypto.PrivateKey, error) {
	if keystorePath == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	passphrase, err := readPassphrase(false)
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(keystorePath, passphrase)
}

func readPassphrase(confirm bool) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if pass, ok := os.LookupEnv("OPENSKY_KEYSTORE_PASSPHRASE"); ok {
			return pass, nil
		}
		return "", fmt.Errorf("stdin is not a terminal and OPENSKY_KEYSTORE_PASSPHRASE is unset")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		second, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}
