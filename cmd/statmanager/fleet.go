package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/agent"
	"github.com/MDrooker/rna-stat-manager/internal/config"
)

var (
	keysOnly bool
	confirm  bool

	scanCmd = &cobra.Command{
		Use:   "scan [pattern]",
		Short: "Counts keys matching a glob pattern inside the namespace",
		Long: `Counts keys matching a glob pattern inside the namespace.

A pattern without the namespace prefix is taken as relative to it, so
"count:online:*" scans <prefix>:count:online:*. Not available on cluster
topologies.`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			pattern := qualify(s, args[0])
			if keysOnly {
				for k, err := range s.svc.Scanner.Keys(cmd.Context(), pattern) {
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			}

			res, err := s.svc.Scanner.Scan(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pattern=%s, count=%d\n", pattern, res.Count)
			return nil
		}),
	}

	purgeCmd = &cobra.Command{
		Use:   "purge [pattern]",
		Short: "Deletes keys matching a glob pattern inside the namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			if !confirm {
				return fmt.Errorf("purge deletes keys; pass --yes to confirm")
			}

			var (
				n   int64
				err error
			)
			switch {
			case idInstance != "" && len(args) == 0:
				n, err = s.svc.Fleet.PurgeInstance(cmd.Context(), idInstance)
			case len(args) == 1:
				n, err = s.svc.Scanner.DeleteMatching(cmd.Context(), qualify(s, args[0]))
			default:
				return fmt.Errorf("give a pattern or --instance")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d\n", n)
			return nil
		}),
	}

	onlineCmd = &cobra.Command{
		Use:   "online",
		Short: "Counts hosts with a live online marker",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			n, err := s.svc.Fleet.OnlineCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "online=%d\n", n)
			return nil
		}),
	}

	agentCmd = &cobra.Command{
		Use:   "agent",
		Short: "Runs the heartbeat agent for this host",
		Long: `Runs the heartbeat agent for this host.

The agent refreshes this host's online marker every agent.heartbeat_interval,
serves /healthz, /readyz and Prometheus metrics on agent.listen, and on
SIGINT/SIGTERM removes its online marker and every counter scoped to its
instance ID.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := s.svc.Topology().Connect(ctx, s.cfg.ConnectTimeout()); err != nil {
				return err
			}

			a := agent.New(s.svc, s.cfg, s.reg, s.logger)
			s.logger.Info("Starting statmanager agent",
				zap.String("version", Version),
				zap.String("prefix", s.svc.Keys().Prefix()))
			return a.Run(ctx, nil)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := config.Render(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
)

func init() {
	scanCmd.Flags().BoolVar(&keysOnly, "keys", false, "print matching keys instead of the count")
	purgeCmd.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")
	purgeCmd.Flags().StringVar(&idInstance, "instance", "", "purge every counter scoped to this instance ID")
}

// qualify prefixes a relative pattern with the namespace
func qualify(s *session, pattern string) string {
	if s.svc.Keys().Owns(pattern) {
		return pattern
	}
	return s.svc.Keys().Prefix() + ":" + pattern
}
