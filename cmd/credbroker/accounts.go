package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/antihubdev/credbroker/internal/pool"
)

func cmdAccounts(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: credbroker accounts <list|import|rename|enable|disable|mark-refresh|remove> [options]")
		os.Exit(1)
	}

	cfg, st, logger, cleanup := openEnv()
	defer cleanup()
	defer st.Close()

	mgr := pool.NewManager(st, logger, pool.Options{
		Cipher:             openCipher(cfg),
		DefaultResourceURL: cfg.Pool.DefaultResourceURL,
		ExpiryMargin:       cfg.Pool.ExpiryMargin(),
	})
	ctx := context.Background()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("accounts list", flag.ExitOnError)
		owner := fs.String("owner", "", "owner user id (required)")
		fs.Parse(args[1:])
		if *owner == "" {
			fmt.Fprintln(os.Stderr, "usage: credbroker accounts list --owner <user-id>")
			os.Exit(1)
		}
		accounts, err := mgr.ListForOwner(ctx, *owner)
		if err != nil {
			fail(err)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts")
			return
		}
		for _, a := range accounts {
			name := "-"
			if a.AccountName != nil {
				name = *a.AccountName
			}
			email := "-"
			if a.Email != nil {
				email = *a.Email
			}
			state := "enabled"
			if a.Status != 1 {
				state = "disabled"
			}
			if a.NeedRefresh {
				state += ", needs refresh"
			}
			expiry := "unknown"
			if a.ExpiresAt != nil {
				expiry = time.UnixMilli(*a.ExpiresAt).UTC().Format(time.RFC3339)
			}
			fmt.Printf("  %s  %-20s  %-30s  tier=%s shared=%d  %s  expires=%s\n",
				a.AccountID, name, email, a.Subscription, a.IsShared, state, expiry)
		}

	case "import":
		fs := flag.NewFlagSet("accounts import", flag.ExitOnError)
		owner := fs.String("owner", "", "owner user id (required)")
		name := fs.String("name", "", "display name")
		subscription := fs.String("subscription", "", "subscription tier")
		shared := fs.Int("shared", 0, "1 to contribute the account to the shared pool")
		email := fs.String("email", "", "account email (dedup key)")
		refresh := fs.String("refresh-token", "", "refresh token (dedup key)")
		resource := fs.String("resource-url", "", "provider portal")
		expires := fs.Int64("expires-at", 0, "token expiry in epoch milliseconds")
		fs.Parse(args[1:])
		if *owner == "" {
			fmt.Fprintln(os.Stderr, "usage: credbroker accounts import --owner <user-id> [options]")
			os.Exit(1)
		}

		fmt.Print("Enter access token: ")
		token, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fail(fmt.Errorf("reading token: %w", err))
		}

		data := pool.ImportData{
			OwnerUserID:  *owner,
			Subscription: *subscription,
			IsShared:     *shared,
			AccessToken:  strings.TrimSpace(string(token)),
		}
		if *name != "" {
			data.AccountName = name
		}
		if *email != "" {
			data.Email = email
		}
		if *refresh != "" {
			data.RefreshToken = refresh
		}
		if *resource != "" {
			data.ResourceURL = resource
		}
		if *expires > 0 {
			data.ExpiresAt = expires
		}

		account, err := mgr.Import(ctx, data)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Account %s imported\n", account.AccountID)

	case "rename":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: credbroker accounts rename <account-id> <name>")
			os.Exit(1)
		}
		if _, err := mgr.Rename(ctx, args[1], args[2]); err != nil {
			fail(err)
		}
		fmt.Println("Account renamed")

	case "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: credbroker accounts %s <account-id>\n", args[0])
			os.Exit(1)
		}
		status := 1
		if args[0] == "disable" {
			status = 0
		}
		if _, err := mgr.SetStatus(ctx, args[1], status); err != nil {
			fail(err)
		}
		fmt.Printf("Account %sd\n", args[0])

	case "mark-refresh":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: credbroker accounts mark-refresh <account-id>")
			os.Exit(1)
		}
		if _, err := mgr.MarkNeedsRefresh(ctx, args[1]); err != nil {
			fail(err)
		}
		fmt.Println("Account flagged for refresh")

	case "remove":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: credbroker accounts remove <account-id>")
			os.Exit(1)
		}
		if err := mgr.Remove(ctx, args[1]); err != nil {
			fail(err)
		}
		fmt.Println("Account removed")

	default:
		fmt.Fprintf(os.Stderr, "unknown accounts command: %s\n", args[0])
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
