// Package main provides the ipldgraph CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/orneryd/ipldgraph/pkg/config"
	"github.com/orneryd/ipldgraph/pkg/driver"
	"github.com/orneryd/ipldgraph/pkg/migrate"
	"github.com/orneryd/ipldgraph/pkg/txn"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var (
	flagURI    string
	flagConfig string
	flagFormat string
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "ipldgraph",
		Short: "ipldgraph - content-addressed property-graph database",
		Long: `ipldgraph is a property-graph database that persists nodes,
relationships, and whole-graph snapshots as immutable IPLD blocks on an
IPFS-style object store, behind a Neo4j-compatible driver surface.

Features:
  • Cypher query pipeline (MATCH / CREATE / MERGE / WHERE / RETURN)
  • Hash-linked write-ahead log with crash recovery and compaction
  • Bookmark-based causal consistency between sessions
  • JSON / Pajek / CAR import and export`,
	}
	rootCmd.PersistentFlags().StringVar(&flagURI, "uri", "ipfs+embedded://", "store URI (ipfs://host:port or ipfs+embedded://[path])")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ipldgraph v%s (%s)\n", version, commit)
		},
	})

	queryCmd := &cobra.Command{
		Use:   "query <cypher>",
		Short: "Run a Cypher query",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	rootCmd.AddCommand(queryCmd)

	exportCmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the graph to JSON, Pajek, or CAR",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&flagFormat, "format", "json", "export format: json, pajek, car")
	rootCmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a graph from JSON, Pajek, or CAR",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().StringVar(&flagFormat, "format", "json", "import format: json, pajek, car")
	rootCmd.AddCommand(importCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Replay committed WAL entries into a fresh engine",
		RunE:  runRecover,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show store and WAL statistics",
		RunE:  runStats,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDriver() (*driver.Driver, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.LoadFile(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return driver.NewDriver(flagURI, driver.Options{Config: cfg})
}

func runQuery(cmd *cobra.Command, args []string) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()

	session := drv.NewSession(driver.SessionOptions{})
	ctx := context.Background()
	defer session.Close(ctx)

	result, err := session.Run(ctx, args[0], nil)
	if err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}

	for _, rec := range result.Records {
		parts := make([]string, 0, len(result.Keys))
		for _, key := range result.Keys {
			parts = append(parts, fmt.Sprintf("%s=%v", key, rec.Value(key)))
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	fmt.Fprintf(os.Stderr, "%d record(s)\n", len(result.Records))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()

	data := migrate.Collect(drv.Engine())
	ctx := context.Background()

	switch flagFormat {
	case "json":
		encoded, err := data.MarshalJSONIndent()
		if err != nil {
			return err
		}
		return os.WriteFile(args[0], encoded, 0o644)
	case "pajek":
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return migrate.WritePajek(f, data)
	case "car":
		return migrate.WriteCAR(ctx, args[0], data)
	}
	return fmt.Errorf("unknown export format %q", flagFormat)
}

func runImport(cmd *cobra.Command, args []string) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()
	ctx := context.Background()

	var data *migrate.GraphData
	switch flagFormat {
	case "json":
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		data, err = migrate.FromJSON(raw)
		if err != nil {
			return err
		}
	case "pajek":
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		data, err = migrate.ReadPajek(f)
		if err != nil {
			return err
		}
	case "car":
		var err error
		data, err = migrate.ReadCAR(ctx, args[0])
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown import format %q", flagFormat)
	}

	if err := migrate.Load(ctx, drv.Engine(), data); err != nil {
		return err
	}
	fmt.Printf("imported %d node(s), %d relationship(s)\n", len(data.Nodes), len(data.Relationships))
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()
	ctx := context.Background()

	n, err := txn.Recover(ctx, drv.Engine(), drv.WAL())
	if err != nil {
		return err
	}
	fmt.Printf("replayed %d operation(s); engine now has %d node(s), %d relationship(s)\n",
		n, drv.Engine().NodeCount(), drv.Engine().RelationshipCount())
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	drv, err := openDriver()
	if err != nil {
		return err
	}
	defer drv.Close()
	ctx := context.Background()

	info, err := drv.VerifyConnectivity(ctx)
	if err != nil {
		return err
	}
	stats := drv.WAL().GetStats()
	out := map[string]any{
		"store": info,
		"wal":   stats,
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
