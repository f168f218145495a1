// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"marcidb/internal/config"
	"marcidb/internal/httpapi"
	"marcidb/internal/schema"
	"marcidb/internal/storage"
)

type serveFlags struct {
	config     string
	dataDir    string
	schemaPath string
	listenAddr string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "marcidb",
		Short: "Schema-driven embedded document database",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load a schema, open the database, and serve the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "Path to a marcidb.toml config file")
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", "", "Override the configured data directory")
	cmd.Flags().StringVar(&flags.schemaPath, "schema", "", "Override the configured schema file path")
	cmd.Flags().StringVar(&flags.listenAddr, "listen", "", "Override the configured listen address")

	return cmd
}

func runServe(flags *serveFlags) error {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return err
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.schemaPath != "" {
		cfg.SchemaPath = flags.schemaPath
	}
	if flags.listenAddr != "" {
		cfg.ListenAddr = flags.listenAddr
	}

	src, err := os.ReadFile(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("read schema %q: %w", cfg.SchemaPath, err)
	}

	sch, err := schema.ParseSchema(string(src))
	if err != nil {
		return fmt.Errorf("resolve schema %q: %w", cfg.SchemaPath, err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %q: %w", cfg.DataDir, err)
	}

	dbPath := cfg.DataDir + "/marcidb.db"
	engine, err := storage.Open(dbPath, sch)
	if err != nil {
		return fmt.Errorf("open database %q: %w", dbPath, err)
	}
	defer engine.Close()

	srv := httpapi.New(engine)
	fmt.Printf("marcidb listening on %s (schema %s, data %s)\n", cfg.ListenAddr, cfg.SchemaPath, dbPath)
	return http.ListenAndServe(cfg.ListenAddr, srv)
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect a schema source file without starting a server",
	}

	cmd.AddCommand(schemaCheckCmd())
	cmd.AddCommand(schemaTreesCmd())
	return cmd
}

func schemaCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <schema-file>",
		Short: "Parse and resolve a schema file, reporting errors or a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sch, err := loadSchemaFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d model(s), %d enum(s), %d tree(s)\n", len(sch.Models), len(sch.Enums), len(sch.TreeNames()))
			return nil
		},
	}
}

func schemaTreesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trees <schema-file>",
		Short: "Print every bucket name the schema will create",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sch, err := loadSchemaFile(args[0])
			if err != nil {
				return err
			}
			for _, name := range sch.TreeNames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func loadSchemaFile(path string) (*schema.Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %q: %w", path, err)
	}
	sch, err := schema.ParseSchema(string(src))
	if err != nil {
		return nil, fmt.Errorf("resolve schema %q: %w", path, err)
	}
	return sch, nil
}
