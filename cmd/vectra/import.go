package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vectra"
)

var (
	importSource    string
	importTable     string
	importVecCols   []string
	importMetaMap   []string
	importBatchSize int
)

// importCmd bulk-loads rows from a SQLite table.
var importCmd = &cobra.Command{
	Use:   "import NAME",
	Short: "Import vectors from a SQLite table",
	Long: `Import reads rows from a SQLite table in rowid order and commits them in
shard-aligned chunks. Vector columns are coerced to floats; metadata columns
are typed from the source column's declared type. On a bad row the current
chunk is aborted and committed chunks stay on disk, so the import can be
re-run after correcting the source.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metaCols := make(map[string]string, len(importMetaMap))
		for _, pair := range importMetaMap {
			key, col, ok := strings.Cut(pair, "=")
			if !ok || key == "" || col == "" {
				return fmt.Errorf("invalid meta column mapping %q, expected key=column", pair)
			}
			metaCols[key] = col
		}

		return withEngine(cmd, func(ctx context.Context, vt *vectra.Vectra) error {
			summary, err := vt.Import(ctx, args[0], vectra.ImportRequest{
				Source:        importSource,
				Table:         importTable,
				VectorColumns: importVecCols,
				MetaColumns:   metaCols,
				BatchSize:     importBatchSize,
			})
			if summary.Rows > 0 {
				fmt.Printf("imported %d rows into %d shards\n", summary.Rows, summary.Shards)
			}
			return err
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "", "SQLite database file (required)")
	importCmd.Flags().StringVar(&importTable, "table", "", "source table (required)")
	importCmd.Flags().StringSliceVar(&importVecCols, "vec-cols", nil, "vector columns in order (required)")
	importCmd.Flags().StringArrayVar(&importMetaMap, "meta-col", nil, "metadata mapping key=column (repeatable)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "rows per committed chunk (default: configured batch size)")
	_ = importCmd.MarkFlagRequired("source")
	_ = importCmd.MarkFlagRequired("table")
	_ = importCmd.MarkFlagRequired("vec-cols")
}
