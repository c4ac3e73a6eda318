// Package cli wires the engine into the fudai command tree.
package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/config"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// Version is stamped by the build.
var Version = "dev"

var (
	configPath string
	poolsPath  string
)

var rootCmd = &cobra.Command{
	Use:           "fudai",
	Short:         "Festival content generation engine",
	Long:          "fudai runs AI festival content missions: avatars, group photos, photo restoration and card draws.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&poolsPath, "pools", "pools.yaml", "workflow and template catalog (YAML)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newResultCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fudai: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (model.Config, *log.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	out := io.Writer(os.Stderr)
	if cfg.Logging.Level == "error" {
		out = io.Discard
	}
	return cfg, log.New(out, "", log.LstdFlags), nil
}
