package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/clinical-notify/internal/app"
	"github.com/example/clinical-notify/internal/common"
	"github.com/example/clinical-notify/internal/migrate"
)

const serviceName = "notifyctl"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Administer the clinical notification pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "warn", "log level for diagnostic output")

	root.AddCommand(migrateCmd(), recordsCmd(), artifactsCmd())
	return root
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	for _, command := range []struct{ name, short string }{
		{migrate.CommandUp, "Apply pending migrations"},
		{migrate.CommandDown, "Roll back the last migration"},
		{migrate.CommandStatus, "Show migration status"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   command.name,
			Short: command.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := common.LoadConfig(serviceName)
				if err != nil {
					return err
				}
				db, err := migrate.Open(cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()
				return migrate.Run(cmd.Context(), db, command.name)
			},
		})
	}
	return cmd
}

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect notification records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <hospital-number>",
		Short: "List a patient's notification records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, (*common.Config).RequireDurableLog, func(ctx context.Context, a *app.App) error {
				records, err := a.Notifier.ListByPatient(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "read <record-id>",
		Short: "Mark an in-app record as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, (*common.Config).RequireDurableLog, func(ctx context.Context, a *app.App) error {
				if err := a.Notifier.MarkRead(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "record %s marked read\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func artifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect stored clinical documents",
	}

	list := &cobra.Command{
		Use:   "list <hospital-number>",
		Short: "List a patient's documents, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			visit, _ := cmd.Flags().GetBool("visit")
			return withApp(cmd, (*common.Config).RequireDurableArtifacts, func(ctx context.Context, a *app.App) error {
				list, err := a.Artifacts.ListByPatient(ctx, args[0])
				if visit {
					list, err = a.Artifacts.ListByVisitOrRecord(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			})
		},
	}
	list.Flags().Bool("visit", false, "treat the argument as a visit or record id")

	get := &cobra.Command{
		Use:   "get <artifact-id>",
		Short: "Show document metadata, or write its content with --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withApp(cmd, (*common.Config).RequireDurableArtifacts, func(ctx context.Context, a *app.App) error {
				meta, content, err := a.Artifacts.GetByID(ctx, args[0])
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(cmd, meta)
				}
				if err := os.WriteFile(out, content, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(content), out)
				return nil
			})
		},
	}
	get.Flags().String("out", "", "file to write the document content to")

	del := &cobra.Command{
		Use:   "delete <artifact-id>",
		Short: "Delete a document and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, (*common.Config).RequireDurableArtifacts, func(ctx context.Context, a *app.App) error {
				if err := a.Artifacts.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "artifact %s deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

// withApp loads config, wires the stores and closes them after fn returns.
// durable rejects stores that would only hold this process's own writes.
func withApp(cmd *cobra.Command, durable func(*common.Config) error, fn func(context.Context, *app.App) error) error {
	cfg, err := common.LoadConfig(serviceName)
	if err != nil {
		return err
	}
	if err := durable(cfg); err != nil {
		return err
	}
	level, _ := cmd.Flags().GetString("log-level")
	logger := common.NewLogger(serviceName, level).Output(cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
