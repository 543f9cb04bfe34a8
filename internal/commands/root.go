package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"evalgo.org/inventory/internal/config"
	"evalgo.org/inventory/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Firmware image inventory for network elements",
	Long: `Inventory keeps track of the firmware images available for network
elements, the releases bundling them and the images installed on each
element.

It computes the upgrades available to an element and aggregates how
images are deployed across element groups.`,
	Version: version.Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	// These should never fail as flags are defined above
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))   //nolint:errcheck
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format")) //nolint:errcheck

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(semverCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyLogFlags(cfg)
}

// applyLogFlags lets the persistent --log-level and --log-format flags
// override the loaded configuration.
func applyLogFlags(c *config.Config) {
	if level := viper.GetString("logging.level"); level != "" {
		c.Logging.Level = level
	}
	if format := viper.GetString("logging.format"); format != "" {
		c.Logging.Format = format
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, info.String())

		if cmd.Flag("verbose").Changed {
			fmt.Fprintf(out, "\nDetails:\n")
			fmt.Fprintf(out, "  Version:    %s\n", info.Version)
			fmt.Fprintf(out, "  Release:    %s\n", info.Release)
			fmt.Fprintf(out, "  API:        %s\n", info.APIVersion)
			fmt.Fprintf(out, "  Git Commit: %s\n", info.GitCommit)
			fmt.Fprintf(out, "  Built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  Go Version: %s\n", info.GoVersion)
			fmt.Fprintf(out, "  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
