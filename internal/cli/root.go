package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nildb",
	Short: "A multi-tenant, capability-token-authorized document node",
	Long: `nildb is a node in a network of document stores where every read and
write is authorized by a delegated NUC capability token rather than a
session or API key.

Start a node:
  nildb serve

Apply pending catalog migrations without starting the HTTP server:
  nildb migrate

Generate a node identity keypair:
  nildb keygen`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nildb.yaml)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("nildb")
	}

	viper.SetEnvPrefix("NILDB")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("nildb version %s", "0.1.0-dev")
}
