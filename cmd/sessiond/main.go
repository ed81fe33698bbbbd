// Command sessiond serves Redis-backed HTTP sessions and sweeps expired
// ones on minute boundaries.
package main

import (
	"context"
	"os"

	"github.com/dalemusser/sessionkeep/app"
	"github.com/dalemusser/sessionkeep/internal/app/bootstrap"
)

func main() {
	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		os.Exit(1)
	}
}
