// delayguard — delayed-activation allowlist guard for Safe accounts.
// Serves the engine over gRPC, previews and configures allowlists, and
// runs offline scenarios against an in-process engine.
package main

import "github.com/ppiankov/delayguard/internal/cli"

func main() {
	cli.Execute()
}
