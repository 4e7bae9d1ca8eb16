package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/canonical/python-module-explorer/internal/metrics"
)

// Instrumented wraps an Invoker with debug logging and invocation metrics.
type Instrumented struct {
	Next    Invoker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (i *Instrumented) Run(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()
	res, err := i.Next.Run(ctx, cmd)
	elapsed := time.Since(start)

	op := cmd.Op
	if op == "" {
		op = "exec"
	}
	i.Metrics.ObserveInvocation(op, err, elapsed)
	if i.Logger != nil {
		i.Logger.Debug("subprocess finished", "op", op, "command", cmd.Name, "duration", elapsed, "error", err)
	}
	return res, err
}
