// Command mcpgate runs the gateway auth server.
package main

import (
	"os"

	"github.com/gatewaymesh/mcpgate/cmd/mcpgate/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
