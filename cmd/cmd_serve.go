package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	"github.com/sooftware/End-to-end-Speech-Recognition/envconfig"
	"github.com/sooftware/End-to-end-Speech-Recognition/server"
	"github.com/sooftware/End-to-end-Speech-Recognition/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the recognition server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}

// RunServer starts the recognition server on the configured host.
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running recognition server")
	}

	if serverVersion != "" {
		fmt.Printf("kospeech version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}
