// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "ciderdisk",
	Short: "Operate on Apple II disk images and their contents",
	Long: `ciderdisk is a commandline tool for working with Apple II disk
images: DOS 3.2/3.3, Pascal, CP/M, RDOS, Gutenberg, and the MacPart/
FocusDrive partition containers, wrapped in gzip, ZIP, or DDD.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ciderdisk.yaml)")
	RootCmd.PersistentFlags().Bool("force", false, "overwrite existing output files")
	viper.BindPFlag("force", RootCmd.PersistentFlags().Lookup("force"))
}

// initConfig reads in a config file and CIDERDISK_-prefixed env vars.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".ciderdisk")
	}
	viper.SetEnvPrefix("CIDERDISK")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // absence of a config file is not an error
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
