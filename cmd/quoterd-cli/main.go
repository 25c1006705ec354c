// Quoterd CLI — операторский инструмент для quoterd API.
//
// Примеры:
//
//	quoterd-cli job submit hdi --payload plate=ABC123
//	quoterd-cli job status 7f3a...
//	quoterd-cli dlq list --target sura --json | jq .
//	quoterd-cli dlq retry 7f3a...
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brokerwiz/quoterd/internal/cli"
)

func main() {
	var apiURL string
	var apiKey string
	var jsonMode bool

	root := &cobra.Command{
		Use:           "quoterd-cli",
		Short:         "Operator CLI for the quoterd quote engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&apiURL, "api-url", envOr("QUOTERD_API_URL", "http://localhost:8080"), "Base URL of the quoterd API")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("QUOTERD_API_KEY"), "Bearer token for the API")
	root.PersistentFlags().BoolVar(&jsonMode, "json", false, "Output JSON instead of tables")

	// Ленивая инициализация: флаги прочитаны к моменту RunE
	clientFn := func() *cli.Client { return cli.NewClient(apiURL, apiKey) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonMode) }

	root.AddCommand(
		cli.NewJobCmd(clientFn, outputFn),
		cli.NewDLQCmd(clientFn, outputFn),
		cli.NewAdmissionCmd(clientFn, outputFn),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
