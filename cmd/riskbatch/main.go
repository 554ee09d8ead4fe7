// Command riskbatch administers the risk result store: schema migrations, run inspection,
// completion, deletion and parquet export.
package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// embeddedConfig is the default application configuration. ${VAR} placeholders are expanded from the
// environment and every key can be overridden with RISKBATCH_* variables.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(embeddedConfig).ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
