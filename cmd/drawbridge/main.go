package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "drawbridge",
	Short: "Drawbridge is a protocol-aware proxy for Minecraft Java Edition servers",
	Long: `Drawbridge fronts a Minecraft Java Edition server: it terminates each
client's cryptographic session, authenticates players against the session
server and multiplexes them onto the backing server, letting plugin hooks
observe and mutate gameplay packets on the way through.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		color.Cyan.Println("drawbridge — client session proxy")
		return run()
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	rootCmd.Flags().String("bind", "", "bind address for client connections")
	_ = viper.BindPFlag("bind", rootCmd.Flags().Lookup("bind"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("drawbridge")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
