package main

import (
	"fmt"
	"os"

	"github.com/antihubdev/credbroker/internal/vault"
)

func cmdKey(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: credbroker key <generate|show|delete>")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "generate":
		if _, err := v.Key(); err == nil {
			fmt.Println("Encryption key already exists")
			return
		}
		if _, err := v.GenerateKey(); err != nil {
			fail(fmt.Errorf("generating key: %w", err))
		}
		fmt.Println("Encryption key generated and stored in the system keyring")

	case "show":
		if _, err := v.Key(); err != nil {
			fail(fmt.Errorf("no encryption key available: %w", err))
		}
		fmt.Println("Encryption key present: ****")

	case "delete":
		if err := v.DeleteKey(); err != nil {
			fail(fmt.Errorf("deleting key: %w", err))
		}
		fmt.Println("Encryption key deleted. Tokens sealed with it can no longer be read.")

	default:
		fmt.Fprintf(os.Stderr, "unknown key command: %s\n", args[0])
		os.Exit(1)
	}
}
