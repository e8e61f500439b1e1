package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/config"
	"github.com/MDrooker/rna-stat-manager/internal/logging"
	"github.com/MDrooker/rna-stat-manager/internal/model"
	"github.com/MDrooker/rna-stat-manager/internal/service"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "0.1.0"

var (
	configPath string
	logLevel   string

	idHost      string
	idLocalHost bool
	idInstance  string

	rootCmd = &cobra.Command{
		Use:   "statmanager",
		Short: "Fleet counter manager backed by Redis",
		Long: fmt.Sprintf(`statmanager (v%s)

Maintains namespaced counters in Redis: global and host/instance scoped
values, hash counters, pattern scans and fleet online markers.`, Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of statmanager",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "statmanager v%s\n", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(getCmd, incrCmd, decrCmd, setCmd, delCmd, ttlCmd)
	rootCmd.AddCommand(hincrCmd, hgetallCmd)
	rootCmd.AddCommand(scanCmd, purgeCmd, onlineCmd)
}

// addIdentityFlags adds the flags that turn a type/name pair into a scoped
// identity
func addIdentityFlags(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().StringVar(&idHost, "host", "", "scope the counter to this host")
		c.Flags().BoolVar(&idLocalHost, "local-host", false, "scope the counter to this machine's hostname")
		c.Flags().StringVar(&idInstance, "instance", "", "scope the counter to this instance ID")
	}
}

func identityFromFlags(counterType, counterName string) (model.CounterIdentity, error) {
	if idHost == "" && !idLocalHost && idInstance == "" {
		return model.NewGlobal(counterType, counterName)
	}

	var opts []model.IdentityOption
	switch {
	case idLocalHost:
		opts = append(opts, model.WithLocalHost())
	case idHost != "":
		opts = append(opts, model.WithHost(idHost))
	}
	if idInstance != "" {
		opts = append(opts, model.WithInstance(idInstance))
	}
	return model.NewScoped(counterType, counterName, opts...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// session is the config, logger and service shared by one command run
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *service.Service
	reg    *prometheus.Registry
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	svc, err := service.NewFromConfig(cfg, reg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, svc: svc, reg: reg}, nil
}

func (s *session) close() {
	if err := s.svc.Close(s.cfg.Agent.ShutdownTimeout); err != nil {
		s.logger.Warn("Service close incomplete", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx := cmd.Context()
		if err := s.svc.Topology().Connect(ctx, s.cfg.ConnectTimeout()); err != nil {
			return err
		}
		return fn(cmd, args, s)
	}
}

func parseTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("ttl must be a duration like 30s: %w", err)
	}
	return d, nil
}
