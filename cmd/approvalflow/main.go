package main

import (
	"log/slog"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	approvalflow.SetupLogger()

	if err := approvalflow.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
