// RowStore command-line interface and gRPC server
package main

import (
	"os"

	"github.com/nainya/rowstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
