// Command cbctl is a command line client for the cbfront gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/cbfront/internal/client"
	"github.com/dreamware/cbfront/internal/cluster"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	gateway string
	timeout time.Duration
}

func (c *cli) client() *client.Client {
	return client.New(c.gateway)
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "cbctl",
		Short:        "Command line client for the cbfront gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.gateway, "gateway", envOr("CBFRONT_GATEWAY", "http://localhost:8091"), "gateway base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		c.bucketsCmd(),
		c.getCmd(),
		c.writeCmd("upsert", "Create or overwrite a document", (*client.Client).Upsert),
		c.writeCmd("insert", "Create a document that must not exist", (*client.Client).Insert),
		c.writeCmd("replace", "Overwrite a document that must exist", (*client.Client).Replace),
		c.removeCmd(),
		c.multiCmd(),
		c.queryCmd(),
		c.infoCmd(),
		c.disconnectCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) bucketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "List registered buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			names, err := c.client().Buckets(ctx)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <bucket> <key>",
		Short: "Read a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			doc, err := c.client().Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}

type writeFunc func(*client.Client, context.Context, string, string, json.RawMessage) (cluster.Result, error)

// readValue returns the document argument, or stdin when it is "-".
func readValue(cmd *cobra.Command, arg string) (json.RawMessage, error) {
	raw := []byte(arg)
	if arg == "-" {
		var err error
		if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, err
		}
	}
	if !json.Valid(raw) {
		return nil, errors.New("value must be valid JSON")
	}
	return raw, nil
}

func (c *cli) writeCmd(use, short string, write writeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bucket> <key> <json|->",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(cmd, args[2])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			res, err := write(c.client(), ctx, args[0], args[1], value)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <bucket> <key>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			res, err := c.client().Remove(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (c *cli) multiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "multi <bucket> <key>...",
		Short: "Read several documents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			res, err := c.client().GetMulti(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (c *cli) queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <bucket> <statement>...",
		Short: "Run a query statement",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			rows, err := c.client().Query(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Fprintln(cmd.OutOrStdout(), string(row))
			}
			return nil
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	var flush bool
	cmd := &cobra.Command{
		Use:   "info <bucket>",
		Short: "Show bucket settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			cl := c.client()
			if flush {
				if err := cl.Flush(ctx, args[0]); err != nil {
					return err
				}
			}
			info, err := cl.Info(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().BoolVar(&flush, "flush", false, "flush every document before printing")
	return cmd
}

func (c *cli) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <bucket>",
		Short: "Disconnect a bucket on the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			if err := c.client().Disconnect(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", args[0])
			return nil
		},
	}
}
