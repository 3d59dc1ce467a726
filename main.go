package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sooftware/End-to-end-Speech-Recognition/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
