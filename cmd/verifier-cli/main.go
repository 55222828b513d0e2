package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/opengovern/componentci/pkg/verifier/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cli.Command().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
