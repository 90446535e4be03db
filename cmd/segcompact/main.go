package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"segcompact/internal/app"
	"segcompact/internal/compaction"
	"segcompact/internal/config"
	"segcompact/internal/logger"
	"segcompact/internal/metrics"
	"segcompact/internal/progress"
	"segcompact/internal/schema"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "segcompact",
	Short: "Compact table segments stored in an S3-compatible bucket",
	Long: `Runs a compaction pass over every table in the schema registry, merging each
table's segment objects into one while reporting progress and node severity.`,
	RunE:         runCompaction,
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the operations running on a daemon",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Request running operations of a type to stop",
	RunE:  runStop,
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Manage the schema registry",
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tables",
	RunE:  runTablesList,
}

var tablesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register or rename a table",
	RunE:  runTablesAdd,
}

var tablesDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop a table from the registry",
	RunE:  runTablesDrop,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is none)")
	config.RegisterFlags(rootCmd.Flags())

	for _, cmd := range []*cobra.Command{statusCmd, stopCmd} {
		cmd.Flags().String("addr", ":8080", "Status server address")
	}
	stopCmd.Flags().String("type", compaction.OperationCompaction.String(), "Operation type to stop")

	tablesCmd.PersistentFlags().String("schema", "./schema.db", "Schema registry database file")
	tablesAddCmd.Flags().Int32("id", 0, "Table id")
	tablesAddCmd.Flags().String("keyspace", "", "Keyspace name")
	tablesAddCmd.Flags().String("name", "", "Table name")
	tablesDropCmd.Flags().Int32("id", 0, "Table id")

	tablesCmd.AddCommand(tablesListCmd, tablesAddCmd, tablesDropCmd)
	rootCmd.AddCommand(statusCmd, stopCmd, tablesCmd)
}

func runCompaction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	compactor, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create compactor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, stopping running compactions...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = compactor.Run(ctx)

	if closeErr := compactor.Close(); closeErr != nil {
		log.Error("Error closing compactor", zap.Error(closeErr))
	}

	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	infos, err := metrics.NewClient(addr).Compactions(cmd.Context())
	if err != nil {
		return err
	}

	writeStatus(cmd.OutOrStdout(), infos)
	return nil
}

// writeStatus prints one row per operation, ordered by numeric table id
func writeStatus(out io.Writer, infos []map[string]string) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No operations running")
		return
	}

	sort.SliceStable(infos, func(i, j int) bool {
		a, _ := strconv.ParseInt(infos[i][compaction.KeyID], 10, 32)
		b, _ := strconv.ParseInt(infos[j][compaction.KeyID], 10, 32)
		return a < b
	})

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tKEYSPACE\tTABLE\tPROGRESS")
	for _, m := range infos {
		done, _ := strconv.ParseInt(m[compaction.KeyBytesComplete], 10, 64)
		total, _ := strconv.ParseInt(m[compaction.KeyTotalBytes], 10, 64)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s/%s (%.1f%%)\n",
			m[compaction.KeyID], m[compaction.KeyTaskType], m[compaction.KeyKeyspace], m[compaction.KeyColumnFamily],
			progress.FormatBytes(done), progress.FormatBytes(total), progress.Percent(done, total))
	}
	w.Flush()
}

func runStop(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	taskType, _ := cmd.Flags().GetString("type")

	if _, err := compaction.ParseOperationType(taskType); err != nil {
		return err
	}

	resp, err := metrics.NewClient(addr).Stop(cmd.Context(), taskType)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for %d %s operation(s)\n", resp.Stopped, resp.Type)
	return nil
}

func openSchema(cmd *cobra.Command) (*schema.SQLiteStore, error) {
	path, _ := cmd.Flags().GetString("schema")
	return schema.NewSQLiteStore(path)
}

func runTablesList(cmd *cobra.Command, args []string) error {
	store, err := openSchema(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tables, err := store.ListTables()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, t := range tables {
		fmt.Fprintf(out, "%d\t%s\t%s\n", t.ID, t.Keyspace, t.Name)
	}
	return nil
}

func runTablesAdd(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetInt32("id")
	keyspace, _ := cmd.Flags().GetString("keyspace")
	name, _ := cmd.Flags().GetString("name")

	if strings.Contains(keyspace, "/") || strings.Contains(name, "/") {
		return fmt.Errorf("keyspace and table names cannot contain '/'")
	}

	store, err := openSchema(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.SaveTable(&schema.Table{ID: compaction.TableID(id), Keyspace: keyspace, Name: name})
}

func runTablesDrop(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetInt32("id")

	store, err := openSchema(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.DropTable(compaction.TableID(id))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
