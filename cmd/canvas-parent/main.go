package main

import (
	"context"
	"os"

	"github.com/peterfisher/canvas-parent/cmd/canvas-parent/commands"
	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	// telemetry.json5 is optional, without it spans are no-ops
	t, err := telemetry.SetupFromEnv(ctx, "canvas-parent")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer t.Shutdown(context.Background())
	}

	commands.ExecuteContext(ctx)
}
