package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plant-twin/twinsim/sim"
	"github.com/plant-twin/twinsim/sim/defn"
	"github.com/plant-twin/twinsim/sim/objects"
	"github.com/plant-twin/twinsim/sim/predictor"
	"github.com/plant-twin/twinsim/sim/sequence"
	"github.com/plant-twin/twinsim/sim/store"
)

var (
	// Shared flags
	seed        int64  // Seed for model noise
	logLevel    string // Log verbosity level
	defnPath    string // Definition document (.yaml or .json)
	defnID      string // Identifier of a stored definition
	storeRoot   string // Definition store directory
	modelsPath  string // Extra model registry merged over the built-in one
	plantMixers int    // Mixers in the generated plant when no definition is given

	// run flags
	ticks      int    // Ticks to simulate
	mixerName  string // Mixer driven by the batch recipe
	outputPath string // CSV destination; stdout when empty
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "twinsim",
	Short: "Stepped digital-twin simulator for mixing plants",
}

// setupLogging applies --log. Invalid levels are fatal.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadModels returns the built-in registry, extended by --models.
func loadModels() (*predictor.Registry, error) {
	models := predictor.Builtin()
	if modelsPath == "" {
		return models, nil
	}
	extra, err := predictor.LoadRegistry(modelsPath)
	if err != nil {
		return nil, err
	}
	return models.Merge(extra), nil
}

// loadDefinition resolves the definition selected by the flags: a document
// file, a stored identifier, or the generated mixing plant.
func loadDefinition(ctx context.Context) (*defn.SimulationDefn, error) {
	switch {
	case defnPath != "" && defnID != "":
		return nil, fmt.Errorf("--defn and --id are mutually exclusive")
	case defnPath != "":
		return defn.LoadFile(defnPath)
	case defnID != "":
		st, err := store.Open(storeRoot)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return st.Load(ctx, defnID)
	default:
		return objects.MixingPlant(plantMixers)
	}
}

// runCmd steps a simulation locally, driving one mixer through the batch recipe
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation as fast as possible and print a CSV series",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		out := io.Writer(os.Stdout)
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				logrus.Fatalf("unable to create output file: %v", err)
			}
			defer f.Close()
			out = f
		}

		startTime := time.Now()
		if err := runRecipe(cmd.Context(), out); err != nil {
			logrus.Fatalf("run failed: %v", err)
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))
	},
}

// runRecipe builds the simulation, runs the recipe for --ticks and writes the series.
func runRecipe(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ticks < 1 {
		return fmt.Errorf("--ticks must be at least 1, got %d", ticks)
	}
	d, err := loadDefinition(ctx)
	if err != nil {
		return err
	}
	models, err := loadModels()
	if err != nil {
		return err
	}
	simulator, err := d.CreateSimulation(defn.Resources{Models: models, Seed: seed})
	if err != nil {
		return err
	}
	seq, err := sequence.New(sequence.Recipe{Mixer: mixerName})
	if err != nil {
		return err
	}
	logrus.Infof("Starting simulation %s: %d ticks, driving %s", d.ID(), ticks, mixerName)

	samples, err := sequence.RunLocal(ctx, seq, simulator, ticks)
	if err != nil {
		return err
	}
	logrus.Infof("%d batches completed", seq.Cycles())
	return sequence.WriteCSV(w, samples)
}

// apiCmd prints the capability manifest of a definition
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Print the reference manifest of a simulation definition",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := printAPI(cmd.Context(), os.Stdout); err != nil {
			logrus.Fatalf("api failed: %v", err)
		}
	},
}

// printAPI builds the simulation without stepping it and prints its manifest.
func printAPI(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := loadDefinition(ctx)
	if err != nil {
		return err
	}
	models, err := loadModels()
	if err != nil {
		return err
	}
	simulator, err := d.CreateSimulation(defn.Resources{Models: models, Seed: seed})
	if err != nil {
		return err
	}
	return writeAPI(w, d.ID(), simulator.GetAPI())
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addDefinitionFlags registers the flags that select a definition.
func addDefinitionFlags(c *cobra.Command) {
	c.Flags().Int64Var(&seed, "seed", 42, "Seed for model noise")
	c.Flags().StringVar(&defnPath, "defn", "", "Simulation definition document (.yaml or .json)")
	c.Flags().StringVar(&defnID, "id", "", "Identifier of a stored simulation definition")
	c.Flags().StringVar(&storeRoot, "store", "definitions", "Definition store directory")
	c.Flags().StringVar(&modelsPath, "models", "", "Model registry YAML merged over the built-in models")
	c.Flags().IntVar(&plantMixers, "mixers", 1, "Mixers in the generated plant when no definition is given")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	addDefinitionFlags(runCmd)
	runCmd.Flags().IntVar(&ticks, "ticks", 1000, "Number of ticks to simulate")
	runCmd.Flags().StringVar(&mixerName, "mixer", "Mixer100", "Mixer driven by the batch recipe")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the CSV series to this file instead of stdout")

	addDefinitionFlags(apiCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(apiCmd)
}

// refCount returns the number of references in a manifest.
func refCount(api sim.API) int {
	n := 0
	for _, refs := range api {
		n += len(refs)
	}
	return n
}
