package main

import (
	"github.com/spf13/cobra"

	"agendabot/internal/config"
)

type rootOptions struct {
	configFile string
	envFiles   []string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "agendabot",
		Short: "Weekly meeting agenda bot",
		Long: `agendabot keeps a shared meeting agenda across chat channels and
reminds everyone one hour before the weekly meeting.

Chat commands:
  !add <title>   add a point
  !agenda        show the agenda
  !clear         clear the agenda
  !help          list commands`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default ./agendabot.yaml or ~/.agendabot/agendabot.yaml)")
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newServeCommand(opts),
		newAgendaCommand(opts),
		newNextMeetingCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	var loadOpts []config.Option
	if o.configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(o.configFile))
	}
	if len(o.envFiles) > 0 {
		loadOpts = append(loadOpts, config.WithEnvFiles(o.envFiles...))
	}
	if o.logLevel != "" {
		loadOpts = append(loadOpts, config.WithOverride("logging.level", o.logLevel))
	}
	return config.Load(loadOpts...)
}
