package main

import (
	"fmt"
	"os"

	"github.com/deemkeen/murmur/ui"
	"github.com/deemkeen/murmur/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	conf    *util.AppConfig
	logger  *zap.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           util.Name,
		Short:         "A small federated microblog server",
		Version:       util.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	rootCmd.SetVersionTemplate(util.GetNameAndVersion() + "\n")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")

	rootCmd.AddCommand(
		serveCmd(),
		setupCmd(),
		postCmd(),
		followCmd(),
		timelineCmd(),
		followersCmd(),
		followingCmd(),
		configCmd(),
	)
	return rootCmd
}

func initConfig() error {
	if err := util.LoadDotEnv(); err != nil {
		return err
	}
	v := viper.New()
	util.ApplyDefaults(v)
	if err := util.ReadConfigFile(v, cfgFile); err != nil {
		return err
	}

	var err error
	conf, err = util.Load(v)
	if err != nil {
		return err
	}
	logger, err = util.NewLogger(conf.Log.Level)
	return err
}
