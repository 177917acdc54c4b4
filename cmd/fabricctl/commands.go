package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/fabrickv/internal/client"
	"github.com/oriys/fabrickv/internal/domain"
	"github.com/oriys/fabrickv/internal/fabric/vsockfabric"
)

// dial opens a vsock connection to the configured pool server and drives
// it through the handshake, returning a ready Connection the caller must
// Close.
func dial(ctx context.Context) (*client.Connection, error) {
	transport, err := vsockfabric.Dial(ctx, vsockCID, vsockPort, 4<<20, 256)
	if err != nil {
		return nil, fmt.Errorf("dial %d:%d: %w", vsockCID, vsockPort, err)
	}
	conn, err := client.New(ctx, transport, authID, client.Options{})
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return conn, nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(timeoutS)*time.Second)
}

func parsePoolID(s string) (domain.PoolID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pool id %q: %w", s, err)
	}
	return domain.PoolID(n), nil
}

func createPoolCmd() *cobra.Command {
	var (
		size          uint64
		exclusive     bool
		expectedCount uint64
	)
	cmd := &cobra.Command{
		Use:   "create-pool <name>",
		Short: "Create a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			var flags domain.Flags
			if exclusive {
				flags |= domain.FlagCreateExclusive
			}
			id, err := conn.CreatePool(ctx, args[0], size, flags, expectedCount)
			if err != nil {
				return err
			}
			fmt.Printf("pool created: id=%d name=%s size=%d\n", id, args[0], size)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&size, "size", 1<<20, "pool size in bytes")
	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "fail if the pool already exists")
	cmd.Flags().Uint64Var(&expectedCount, "expected-count", 0, "expected object count sizing hint")
	return cmd
}

func openPoolCmd() *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "open-pool <name>",
		Short: "Open an existing pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			var flags domain.Flags
			if readOnly {
				flags |= domain.FlagReadOnly
			}
			id, err := conn.OpenPool(ctx, args[0], flags)
			if err != nil {
				return err
			}
			fmt.Printf("pool opened: id=%d name=%s\n", id, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "pass the read-only flag on open (backends do not refuse writes on it)")
	return cmd
}

func closePoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close-pool <pool-id>",
		Short: "Close a pool handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			if err := conn.ClosePool(ctx, id); err != nil {
				return err
			}
			fmt.Printf("pool closed: id=%d\n", id)
			return nil
		},
	}
}

func deletePoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-pool <name>",
		Short: "Delete a pool's backing storage outright",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			if err := conn.DeletePool(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("pool deleted: %s\n", args[0])
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	var (
		replace bool
		direct  bool
	)
	cmd := &cobra.Command{
		Use:   "put <pool-id> <key> <value>",
		Short: "Store a key/value pair",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			var flags domain.Flags
			if replace {
				flags |= domain.FlagReplace
			}
			key, value := []byte(args[1]), []byte(args[2])
			if direct {
				err = conn.PutDirect(ctx, id, key, value, flags)
			} else {
				err = conn.Put(ctx, id, key, value, flags)
			}
			if err != nil {
				return err
			}
			fmt.Printf("put ok: pool=%d key=%s\n", id, args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "allow overwriting an existing key")
	cmd.Flags().BoolVar(&direct, "direct", false, "use the two-stage direct transfer path instead of inlining")
	return cmd
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <pool-id> <key>",
		Short: "Retrieve a key's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			value, _, err := conn.Get(ctx, id, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", value)
			return nil
		},
	}
	return cmd
}

func eraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <pool-id> <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			if err := conn.Erase(ctx, id, []byte(args[1])); err != nil {
				return err
			}
			fmt.Printf("erased: pool=%d key=%s\n", id, args[1])
			return nil
		},
	}
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <pool-id>",
		Short: "Count the live keys in a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			n, err := conn.Count(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
}

func findCmd() *cobra.Command {
	var offset uint64
	cmd := &cobra.Command{
		Use:   "find <pool-id>",
		Short: "Page through a pool's keyspace from an offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			key, next, err := conn.Find(ctx, id, nil, offset)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s next_offset=%d\n", key, next)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "offset to resume from")
	return cmd
}
