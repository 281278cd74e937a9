// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	vnodedb-cli put mykey "hello world"              --server http://localhost:8080
//	vnodedb-cli get mykey                            --server http://localhost:8080
//	vnodedb-cli delete mykey --context 1=4            --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vnodedb/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
	contextArg []string
)

func main() {
	root := &cobra.Command{
		Use:   "vnodedb-cli",
		Short: "CLI client for vnodedb",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "vnodedb node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctxVV, err := parseContext(contextArg)
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			dcc, err := c.Put(context.Background(), args[0], []byte(args[1]), ctxVV)
			if err != nil {
				return describeErr(err)
			}
			prettyPrint(dcc)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&contextArg, "context", nil, "causal context entries seen from a prior read, as node=version")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve every concurrent sibling for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			dcc, err := c.Get(context.Background(), args[0])
			if err != nil {
				return describeErr(err)
			}
			if len(dcc.Siblings) == 0 {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			prettyPrint(dcc)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctxVV, err := parseContext(contextArg)
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0], ctxVV); err != nil {
				return describeErr(err)
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&contextArg, "context", nil, "causal context entries seen from a prior read, as node=version")
	return cmd
}

// parseContext turns repeated --context node=version flags into the
// node->version map the server expects as the write's causal context.
func parseContext(entries []string) (map[string]uint64, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]uint64, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --context entry %q: expected node=version", e)
		}
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --context entry %q: %w", e, err)
		}
		out[parts[0]] = v
	}
	return out, nil
}

func describeErr(err error) error {
	switch e := err.(type) {
	case *client.MovedError:
		return fmt.Errorf("not this node's partition anymore; retry against %s", e.Addr)
	case *client.AskError:
		return fmt.Errorf("that replica is still bootstrapping; retry against %s shortly", e.Addr)
	default:
		return err
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
