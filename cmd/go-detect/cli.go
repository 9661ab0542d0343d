package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/pipeline"
	"github.com/tsawler/go-detect/training"
)

// overrideFlags are the pipeline config values resolvable from the command
// line, applied over the loaded config file.
type overrideFlags struct {
	trainInputPath      string
	evalInputPath       string
	labelMapPath        string
	trainSteps          int
	checkpointEveryN    int
	checkpointMaxToKeep int
	waitInterval        int
	timeout             int
}

func (f *overrideFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.trainInputPath, "train_input_path", "", "Override the train input record path")
	cmd.Flags().StringVar(&f.evalInputPath, "eval_input_path", "", "Override the eval input record path")
	cmd.Flags().StringVar(&f.labelMapPath, "label_map_path", "", "Override the label map path")
	cmd.Flags().IntVar(&f.trainSteps, "train_steps", 0, "Override the number of training steps")
	cmd.Flags().IntVar(&f.checkpointEveryN, "checkpoint_every_n", 0, "Override the checkpoint cadence")
	cmd.Flags().IntVar(&f.checkpointMaxToKeep, "checkpoint_max_to_keep", 0, "Override checkpoint retention")
	cmd.Flags().IntVar(&f.waitInterval, "wait_interval", 0, "Override the eval poll interval (seconds)")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Override the eval timeout (seconds)")
}

func (f *overrideFlags) overrides() pipeline.Overrides {
	return pipeline.Overrides{
		TrainInputPath:      f.trainInputPath,
		EvalInputPath:       f.evalInputPath,
		LabelMapPath:        f.labelMapPath,
		TrainSteps:          f.trainSteps,
		CheckpointEveryN:    f.checkpointEveryN,
		CheckpointMaxToKeep: f.checkpointMaxToKeep,
		WaitInterval:        f.waitInterval,
		Timeout:             f.timeout,
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %v", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}

// NewCLI creates the go-detect command tree.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "go-detect",
		Short:         "Object detection model training and evaluation",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newTrainCmd(&logLevel),
		newEvalCmd(&logLevel),
		newCheckpointsCmd(),
	)
	return rootCmd
}

func newTrainCmd(logLevel *string) *cobra.Command {
	var configPath, modelDir string
	var sideEval bool
	var flags overrideFlags

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the training loop with periodic checkpointing",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(*logLevel)
			if err != nil {
				return err
			}
			cfg, err := pipeline.LoadWithOverrides(configPath, flags.overrides())
			if err != nil {
				return err
			}
			opts := training.Options{Logger: &log}
			if sideEval {
				metrics, err := training.TrainAndEvaluate(cmd.Context(), cfg, modelDir, opts)
				if err != nil {
					return err
				}
				printMetrics(cmd, metrics)
				return nil
			}
			return training.TrainLoop(cmd.Context(), cfg, modelDir, opts)
		},
	}
	cmd.Flags().StringVar(&configPath, "pipeline_config_path", "", "Path to the pipeline config file")
	cmd.Flags().StringVar(&modelDir, "model_dir", "", "Directory checkpoints are written to")
	cmd.Flags().BoolVar(&sideEval, "eval", false, "Run continuous evaluation alongside training")
	cmd.MarkFlagRequired("pipeline_config_path")
	cmd.MarkFlagRequired("model_dir")
	flags.register(cmd)
	return cmd
}

func newEvalCmd(logLevel *string) *cobra.Command {
	var configPath, checkpointDir string
	var flags overrideFlags

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Continuously evaluate checkpoints as they appear",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(*logLevel)
			if err != nil {
				return err
			}
			cfg, err := pipeline.LoadWithOverrides(configPath, flags.overrides())
			if err != nil {
				return err
			}
			metrics, err := training.EvalContinuously(cmd.Context(), cfg, checkpointDir, training.Options{Logger: &log})
			if err != nil {
				return err
			}
			printMetrics(cmd, metrics)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "pipeline_config_path", "", "Path to the pipeline config file")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint_dir", "", "Directory to watch for checkpoints")
	cmd.MarkFlagRequired("pipeline_config_path")
	cmd.MarkFlagRequired("checkpoint_dir")
	flags.register(cmd)
	return cmd
}

func newCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and prune a model directory's checkpoints",
	}

	var listDir string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List retained checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := checkpoints.ListDir(listDir, "")
			if err != nil {
				return err
			}
			for _, info := range infos {
				cmd.Printf("step %-8d %s\n", info.Step, info.Path)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listDir, "model_dir", "", "Directory to list")
	listCmd.MarkFlagRequired("model_dir")

	var pruneDir string
	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1, got %d", keep)
			}
			infos, err := checkpoints.ListDir(pruneDir, "")
			if err != nil {
				return err
			}
			if len(infos) <= keep {
				return nil
			}
			for _, info := range infos[:len(infos)-keep] {
				if err := os.Remove(info.Path + checkpoints.IndexSuffix); err != nil {
					return err
				}
				if err := os.Remove(info.Path + checkpoints.DataSuffix); err != nil && !os.IsNotExist(err) {
					return err
				}
				cmd.Printf("deleted %s\n", info.Path)
			}
			return nil
		},
	}
	pruneCmd.Flags().StringVar(&pruneDir, "model_dir", "", "Directory to prune")
	pruneCmd.Flags().IntVar(&keep, "keep", 3, "Number of checkpoints to retain")
	pruneCmd.MarkFlagRequired("model_dir")

	cmd.AddCommand(listCmd, pruneCmd)
	return cmd
}

func printMetrics(cmd *cobra.Command, metrics training.Metrics) {
	cmd.Printf("checkpoint: %s (step %d)\n", metrics.CheckpointPath, metrics.Step)
	cmd.Printf("batches:    %d\n", metrics.Batches)
	cmd.Printf("mean loss:  %.6f\n", metrics.MeanLoss)
	cmd.Printf("stddev:     %.6f\n", metrics.StdDevLoss)
}
