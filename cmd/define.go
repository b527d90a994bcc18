package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plant-twin/twinsim/sim"
	"github.com/plant-twin/twinsim/sim/store"
)

// defineCmd saves a definition to the store
var defineCmd = &cobra.Command{
	Use:   "define",
	Short: "Save a simulation definition to the definition store",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := defineDefinition(cmd.Context(), os.Stdout); err != nil {
			logrus.Fatalf("define failed: %v", err)
		}
	},
}

// defineDefinition saves the selected definition. A duplicate is reported, not
// treated as a failure.
func defineDefinition(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if defnID != "" {
		return fmt.Errorf("--id selects an already stored definition; use --defn or --mixers")
	}
	d, err := loadDefinition(ctx)
	if err != nil {
		return err
	}
	st, err := store.Open(storeRoot)
	if err != nil {
		return err
	}
	defer st.Close()

	entry, err := st.Save(ctx, d)
	if errors.Is(err, store.ErrDuplicateDefinition) {
		fmt.Fprintf(w, "definition %s already exists\n", d.ID())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "saved definition %s (%d objects)\n", entry.ID, entry.Objects)
	fmt.Fprintf(w, "  document: %s\n", entry.JSONPath)
	fmt.Fprintf(w, "  artifact: %s\n", entry.ArtifactPath)
	return nil
}

// listCmd prints the store catalog
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the definitions in the definition store",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := listDefinitions(cmd.Context(), os.Stdout); err != nil {
			logrus.Fatalf("list failed: %v", err)
		}
	},
}

func listDefinitions(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(storeRoot)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "no definitions in %s\n", st.Root())
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tOBJECTS\tKINDS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Objects, strings.Join(e.Kinds, ","))
	}
	return tw.Flush()
}

// writeAPI prints a manifest as indented JSON under a one-line summary.
func writeAPI(w io.Writer, id string, api sim.API) error {
	fmt.Fprintf(w, "=== Simulation %s: %d objects, %d references ===\n", id, len(api), refCount(api))
	data, err := json.MarshalIndent(api, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func init() {
	addDefinitionFlags(defineCmd)

	listCmd.Flags().StringVar(&storeRoot, "store", "definitions", "Definition store directory")

	rootCmd.AddCommand(defineCmd)
	rootCmd.AddCommand(listCmd)
}
