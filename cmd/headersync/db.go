package main

import (
	"encoding/json"
	"fmt"

	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var (
	listSkip    int
	listLimit   int
	listReverse bool
	dropConfirm bool
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the header database (node must be stopped)",
}

var dbListCmd = &cobra.Command{
	Use:   "list [table]",
	Short: "List the entries of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  dbList,
}

var dbGetCmd = &cobra.Command{
	Use:   "get [table] [hex-key]",
	Short: "Print a single entry",
	Args:  cobra.ExactArgs(2),
	RunE:  dbGet,
}

var dbDropTableCmd = &cobra.Command{
	Use:   "drop-table [table]",
	Short: "Delete every entry of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  dbDropTable,
}

var dbDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the whole header database",
	Args:  cobra.NoArgs,
	RunE:  dbDrop,
}

func init() {
	dbListCmd.Flags().IntVar(&listSkip, "skip", 0, "Entries to skip")
	dbListCmd.Flags().IntVar(&listLimit, "len", 5, "Entries to print, 0 for all")
	dbListCmd.Flags().BoolVar(&listReverse, "reverse", false, "Walk from the highest key")
	dbDropCmd.Flags().BoolVar(&dropConfirm, "yes", false, "Confirm the deletion")

	dbCmd.AddCommand(dbListCmd, dbGetCmd, dbDropTableCmd, dbDropCmd)
}

// openDbTool opens the configured database. The returned func closes it.
func openDbTool(readonly bool) (*rawdb.DbTool, string, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, "", nil, err
	}
	dir, err := cfg.ChainDataDir()
	if err != nil {
		return nil, "", nil, err
	}
	db, err := rawdb.NewPebbleDBDatabase(dir, cfg.Database.Cache, cfg.Database.Handles, "", readonly)
	if err != nil {
		return nil, "", nil, err
	}
	return rawdb.NewDbTool(db, logger), dir, func() { db.Close() }, nil
}

func printEntry(cmd *cobra.Command, table rawdb.Table, key, value []byte) error {
	decoded, err := rawdb.DecodeValue(table, value)
	if err != nil {
		decoded = hexutil.Bytes(value)
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", hexutil.Bytes(key), out)
	return nil
}

func dbList(cmd *cobra.Command, args []string) error {
	table, err := rawdb.ParseTable(args[0])
	if err != nil {
		return err
	}
	tool, _, closeDB, err := openDbTool(true)
	if err != nil {
		return err
	}
	defer closeDB()

	entries, err := tool.List(table, listSkip, listLimit, listReverse)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := printEntry(cmd, table, entry.Key, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func dbGet(cmd *cobra.Command, args []string) error {
	table, err := rawdb.ParseTable(args[0])
	if err != nil {
		return err
	}
	key, err := hexutil.Decode(args[1])
	if err != nil {
		return fmt.Errorf("invalid key %q: %w", args[1], err)
	}
	tool, _, closeDB, err := openDbTool(true)
	if err != nil {
		return err
	}
	defer closeDB()

	value, err := tool.Get(table, key)
	if err != nil {
		return err
	}
	return printEntry(cmd, table, key, value)
}

func dbDropTable(cmd *cobra.Command, args []string) error {
	table, err := rawdb.ParseTable(args[0])
	if err != nil {
		return err
	}
	tool, _, closeDB, err := openDbTool(false)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := tool.DropTable(table)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries from %v\n", n, table)
	return nil
}

func dbDrop(cmd *cobra.Command, args []string) error {
	if !dropConfirm {
		return fmt.Errorf("refusing to delete the database without --yes")
	}
	tool, dir, _, err := openDbTool(false)
	if err != nil {
		return err
	}
	// Drop closes the database itself.
	if err := tool.Drop(dir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", dir)
	return nil
}
