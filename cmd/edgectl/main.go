package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-edge/cmd/edgectl/cli"
	"github.com/odyssey-erp/odyssey-edge/internal/auth"
)

type globals struct {
	redisAddr string
	tenant    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "edgectl",
		Short:         "Operate the edge logic runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address")
	root.PersistentFlags().StringVar(&g.tenant, "tenant", os.Getenv("TENANT_ID"), "Tenant id")

	root.AddCommand(
		newTokenCmd(),
		newEnqueueCmd(g),
		newQueueCmd(g),
		newUnitCmd(g),
		newPermissionsCmd(g),
		newSecretCmd(g),
		newInvalidateCmd(g),
	)
	return root
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		email  string
		roles  []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.Mint(secret, auth.NewUserInfo(args[0], email, roles...), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role claim, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime, 0 for none")
	return cmd
}

func newEnqueueCmd(g *globals) *cobra.Command {
	var (
		params string
		userID string
		roles  []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <namespace/name>",
		Short: "Schedule a deferred invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decoded, err := decodeParams(params)
			if err != nil {
				return err
			}
			var user *auth.UserInfo
			if userID != "" {
				user = auth.NewUserInfo(userID, "", roles...)
			}
			jc, err := cli.NewJobsCLI(g.redisAddr, g.tenant)
			if err != nil {
				return err
			}
			defer jc.Close()
			info, err := jc.Trigger(cmd.Context(), args[0], decoded, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "JSON object of parameters")
	cmd.Flags().StringVar(&userID, "user", "", "Run as this user id")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role of the user, repeatable")
	return cmd
}

func newQueueCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect the job queue"}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			jc, err := cli.NewJobsCLI(g.redisAddr, g.tenant)
			if err != nil {
				return err
			}
			defer jc.Close()
			st, err := jc.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			jc, err := cli.NewJobsCLI(g.redisAddr, g.tenant)
			if err != nil {
				return err
			}
			defer jc.Close()
			tasks, err := jc.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "Page size")

	cmd.AddCommand(stats, scheduled)
	return cmd
}

func newUnitCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "unit", Short: "Manage logic units"}
	put := &cobra.Command{
		Use:   "put <namespace/name> <file|->",
		Short: "Publish a logic unit document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			return withBundles(g, func(bc *cli.BundleCLI) error {
				unit, err := bc.PutUnit(cmd.Context(), args[0], raw)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s (%s)\n", unit.Path(), unit.Kind)
				return nil
			})
		},
	}
	cmd.AddCommand(put)
	return cmd
}

func newPermissionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "permissions <file|->",
		Short: "Publish the permissions document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withBundles(g, func(bc *cli.BundleCLI) error {
				return bc.PutPermissions(cmd.Context(), raw)
			})
		},
	}
}

func newSecretCmd(g *globals) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "secret <name> <value>",
		Short: "Store a secret, sealed when a key is given",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundles(g, func(bc *cli.BundleCLI) error {
				return bc.PutSecret(cmd.Context(), args[0], args[1], key)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", os.Getenv("SECRETS_KEY"), "Hex encoded sealing key")
	return cmd
}

func newInvalidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <namespace/name|permissions|*>",
		Short: "Drop cached units on every running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundles(g, func(bc *cli.BundleCLI) error {
				n, err := bc.Invalidate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d listeners\n", n)
				return nil
			})
		},
	}
}

func withBundles(g *globals, fn func(*cli.BundleCLI) error) error {
	client := redis.NewClient(&redis.Options{Addr: g.redisAddr})
	defer client.Close()
	bc, err := cli.NewBundleCLI(client, g.tenant)
	if err != nil {
		return err
	}
	return fn(bc)
}

func decodeParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return out, nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
