package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/antihubdev/credbroker/internal/policy"
)

func cmdRules(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: credbroker rules <list|set|delete> [options]")
		os.Exit(1)
	}

	cfg, st, logger, cleanup := openEnv()
	defer cleanup()
	defer st.Close()

	engine := policy.NewEngine(st, logger, policy.Options{
		CacheTTL: cfg.Policy.CacheTTL(),
	})
	ctx := context.Background()

	switch args[0] {
	case "list":
		tiers, err := engine.ListAllTiers(ctx)
		if err != nil {
			fail(err)
		}
		if len(tiers) == 0 {
			fmt.Println("No subscription tiers")
			return
		}
		for _, t := range tiers {
			if t.ModelIDs == nil {
				fmt.Printf("  %-20s  (no rule, all models permitted)\n", t.Subscription)
				continue
			}
			if len(t.ModelIDs) == 0 {
				fmt.Printf("  %-20s  (empty rule, no models permitted)\n", t.Subscription)
				continue
			}
			fmt.Printf("  %-20s  %s\n", t.Subscription, strings.Join(t.ModelIDs, ", "))
		}

	case "set":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: credbroker rules set <tier> <model-id,model-id,...|none>")
			os.Exit(1)
		}
		var ids []string
		if args[2] == "none" {
			ids = []string{}
		} else {
			ids = strings.Split(args[2], ",")
		}
		rule, err := engine.UpsertRule(ctx, args[1], ids)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Rule for %s set: %d model(s)\n", rule.Subscription, len(rule.AllowedModelIDs))

	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: credbroker rules delete <tier>")
			os.Exit(1)
		}
		removed, err := engine.DeleteRule(ctx, args[1])
		if err != nil {
			fail(err)
		}
		if removed {
			fmt.Println("Rule deleted")
		} else {
			fmt.Println("No rule configured for that tier")
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown rules command: %s\n", args[0])
		os.Exit(1)
	}
}
