package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vectra"
	"github.com/hupe1980/vectra/metadata"
)

var (
	createDimension int

	insertValues   string
	insertMetadata []string

	findValues string
	findK      int
	findMetric string
)

// createCmd creates a new database.
var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, vt *vectra.Vectra) error {
			if err := vt.Create(ctx, args[0], createDimension); err != nil {
				return err
			}
			fmt.Printf("created %q with dimension %d\n", args[0], createDimension)
			return nil
		})
	},
}

// insertCmd appends one vector to a database.
var insertCmd = &cobra.Command{
	Use:   "insert NAME",
	Short: "Insert a vector with optional metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseVector(insertValues)
		if err != nil {
			return err
		}
		meta, err := parseMetadataPairs(insertMetadata)
		if err != nil {
			return err
		}

		return withEngine(cmd, func(ctx context.Context, vt *vectra.Vectra) error {
			total, err := vt.Insert(ctx, args[0], values, meta)
			if err != nil {
				return err
			}
			fmt.Printf("inserted, total %d\n", total)
			return nil
		})
	},
}

// findCmd runs a nearest-neighbor query.
var findCmd = &cobra.Command{
	Use:   "find NAME",
	Short: "Find the nearest vectors to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := parseVector(findValues)
		if err != nil {
			return err
		}

		return withEngine(cmd, func(ctx context.Context, vt *vectra.Vectra) error {
			results, err := vt.Find(ctx, args[0], query, findK, findMetric)
			if err != nil {
				return err
			}
			for rank, r := range results {
				source := ""
				if v, ok := r.Metadata["source"]; ok {
					source = fmt.Sprintf(" source=%v", v)
				}
				fmt.Printf("%d. idx=%d dist=%.6f%s values=%v\n",
					rank+1, r.Index, r.Distance, source, r.Values)
			}
			return nil
		})
	},
}

// infoCmd prints a database summary.
var infoCmd = &cobra.Command{
	Use:   "info NAME",
	Short: "Show dimension, record count and metadata schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, vt *vectra.Vectra) error {
			info, err := vt.Info(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:      %s\n", info.Name)
			fmt.Printf("dimension: %d\n", info.Dimension)
			fmt.Printf("count:     %d\n", info.Count)
			if len(info.Schema) > 0 {
				fmt.Println("schema:")
				keys := make([]string, 0, len(info.Schema))
				for k := range info.Schema {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("  %s: %s\n", k, strings.Join(info.Schema[k], ", "))
				}
			}
			return nil
		})
	},
}

func init() {
	createCmd.Flags().IntVarP(&createDimension, "dimension", "d", 0, "vector dimension (required)")
	_ = createCmd.MarkFlagRequired("dimension")

	insertCmd.Flags().StringVarP(&insertValues, "values", "v", "", "comma-separated vector values (required)")
	insertCmd.Flags().StringArrayVarP(&insertMetadata, "metadata", "m", nil, "metadata key=value pair (repeatable)")
	_ = insertCmd.MarkFlagRequired("values")

	findCmd.Flags().StringVarP(&findValues, "values", "v", "", "comma-separated query values (required)")
	findCmd.Flags().IntVarP(&findK, "count", "k", 10, "number of results")
	findCmd.Flags().StringVarP(&findMetric, "function", "f", "eu", "metric code (eu, l1, cs, cd, md, hd)")
	_ = findCmd.MarkFlagRequired("values")
}

// parseVector parses "1,2.5,3" into float32 values.
func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	values := make([]float32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector value %q", p)
		}
		values = append(values, float32(f))
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no vector values given")
	}
	return values, nil
}

// parseMetadataPairs parses repeated key=value flags into a document.
func parseMetadataPairs(pairs []string) (metadata.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata pair %q, expected key=value", pair)
		}
		m[key] = value
	}
	return metadata.FromStringMap(m), nil
}
