package cmd

import (
	"github.com/spf13/cobra"
	"stream-recorder/config"
	server2 "stream-recorder/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start recorder server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
