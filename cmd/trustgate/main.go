// trustgate: maturity-based governance for AI agents.
package main

import "github.com/ppiankov/trustgate/internal/cli"

func main() {
	cli.Execute()
}
