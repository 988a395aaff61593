package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"insureflow/internal/platform/config"
	"insureflow/internal/platform/logger"
	"insureflow/internal/platform/postgres"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "insureflow-server",
		Short:        "Insurance back office API server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(migrateCmd(&configFile))
	rootCmd.AddCommand(userCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configFile *string) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().StringVar(&opts.adminEmail, "admin-email", "", "create this superuser on start if it does not exist")
	cmd.Flags().StringVar(&opts.adminPassword, "admin-password", "", "password for --admin-email")
	return cmd
}

func migrateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadWithDatabase(*configFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			n, err := postgres.Migrate(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadWithDatabase(*configFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := postgres.NewPool(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := postgres.NewMigrator(pool).Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, st := range statuses {
				state, at := "pending", "-"
				if st.Applied {
					state = "applied"
					at = st.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%03d\t%s\t%s\t%s\n", st.Version, st.Name, state, at)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func userCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	var email, name, password string
	createCmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadWithDatabase(*configFile)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Env, cfg.LogLevel)
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.accounts.CreateSuperuser(ctx, email, name, password)
			if err != nil {
				return fmt.Errorf("create superuser: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created superuser %s (id %d)\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().StringVar(&email, "email", "", "login email")
	createCmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	createCmd.Flags().StringVar(&password, "password", "", "initial password")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")

	cmd.AddCommand(createCmd)
	return cmd
}

// loadWithDatabase loads config for commands that only make sense against PostgreSQL.
func loadWithDatabase(configFile string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required (set INSUREFLOW_DATABASE_URL)")
	}
	return cfg, nil
}
