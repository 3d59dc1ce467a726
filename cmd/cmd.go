// Package cmd implements the speech CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	"github.com/sooftware/End-to-end-Speech-Recognition/envconfig"
)

// appendEnvDocs extends a command's usage text with the environment
// variables it honors.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if err := client.Heartbeat(cmd.Context()); err != nil {
		return fmt.Errorf("could not connect to the recognition server at %s - is it running?", envconfig.Host())
	}

	return nil
}

// NewCLI builds the root command with all subcommands.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "speech",
		Short:         "Speech recognition model server",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	recognizeCmd := newRecognizeCmd()
	showCmd := newShowCmd()
	serveCmd := newServeCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(recognizeCmd, []envconfig.EnvVar{envVars["KOSPEECH_HOST"]})
	appendEnvDocs(showCmd, []envconfig.EnvVar{envVars["KOSPEECH_MODELS"]})
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["KOSPEECH_DEBUG"],
		envVars["KOSPEECH_HOST"],
		envVars["KOSPEECH_MODELS"],
		envVars["KOSPEECH_NUM_THREADS"],
		envVars["KOSPEECH_NUM_PARALLEL"],
		envVars["KOSPEECH_MAX_QUEUE"],
		envVars["KOSPEECH_ORIGINS"],
	})

	rootCmd.AddCommand(
		serveCmd,
		recognizeCmd,
		showCmd,
	)

	return rootCmd
}
