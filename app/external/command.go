package external

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Child processes that keep stdout open after being killed are abandoned after this long.
const waitDelay = 5 * time.Second

// run executes a command under ctx and returns its standard output.
func run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	slog.Debug("External command finished", "command", name, "duration", time.Since(start), "error", err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%s did not finish: %w", name, ctxErr)
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.String(), nil
}
