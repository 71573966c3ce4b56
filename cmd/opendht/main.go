package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/opd-ai/opendht"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "opendht: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *Config

	root := &cobra.Command{
		Use:           "opendht",
		Short:         "Run and query an OpenDHT node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			setupLogging(c)
			*cfg = *c
			return nil
		},
	}
	cfg = &Config{}
	registerFlags(root.PersistentFlags())

	root.AddCommand(
		newNodeCmd(cfg),
		newPutCmd(cfg),
		newGetCmd(cfg),
		newListenCmd(cfg),
	)
	return root
}

func newNodeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "node",
		Short: "Run a node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"function": "node",
				"port":     cfg.Port,
			}).Info("Node running, press Ctrl+C to stop")

			<-cmd.Context().Done()
			return s.close()
		},
	}
}

func newPutCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			key := opendht.HashString(args[0])
			done, err := s.node.Put(key, []byte(args[1]))
			if err != nil {
				return err
			}
			ok, err := done.Wait(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("put %s: not stored", key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored under %s\n", key)
			return nil
		},
	}
}

func newGetCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the values stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			values, err := s.node.Get(opendht.HashString(args[0]))
			if err != nil {
				return err
			}
			defer values.Close()
			return printValues(ctx, cmd.OutOrStdout(), values)
		},
	}
}

func newListenCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "listen KEY",
		Short: "Print values stored under a key until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			values, err := s.node.Listen(opendht.HashString(args[0]))
			if err != nil {
				return err
			}
			defer values.Close()
			return ignoreCanceled(printValues(cmd.Context(), cmd.OutOrStdout(), values))
		},
	}
}

// printValues writes each value until the stream ends or ctx is done.
func printValues(ctx context.Context, w io.Writer, values *opendht.Stream) error {
	found := 0
	for {
		v, ok, err := values.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		found++
		fmt.Fprintf(w, "found %q (%x)\n", v, v)
	}
	if found == 0 {
		fmt.Fprintln(w, "no values found")
	}
	return nil
}
