package main

import (
	"fmt"
	"os"

	"github.com/antihubdev/credbroker/internal/config"
	"github.com/antihubdev/credbroker/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		cmdMigrate()
	case "accounts":
		cmdAccounts(os.Args[2:])
	case "rules":
		cmdRules(os.Args[2:])
	case "key":
		cmdKey(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: credbroker <command> [options]

Commands:
  migrate       Open the database and apply pending migrations
  accounts      Manage pooled accounts (list|import|rename|enable|disable|mark-refresh|remove)
  rules         Manage subscription model rules (list|set|delete)
  key           Manage the token encryption key (generate|show|delete)
  init-config   Generate default config file
  version       Print version information
  help          Show this help message`)
}
