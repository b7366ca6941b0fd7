package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orryxvpn/remnawave-tg-shop/internal/config"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/db/migrations"
)

func migrateCmd(cfgPath *string, devMode *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(fn func(m *migrations.Migrator, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*cfgPath, *devMode)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			m, err := migrations.New(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m, cmd)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(m *migrations.Migrator, cmd *cobra.Command) error {
			if err := m.Up(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			cmd.Println("migrations applied")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: run(func(m *migrations.Migrator, cmd *cobra.Command) error {
			if err := m.Down(); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			cmd.Println("rolled back one migration")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: run(func(m *migrations.Migrator, cmd *cobra.Command) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			cmd.Printf("version=%d dirty=%t\n", v, dirty)
			return nil
		}),
	})
	return cmd
}
