// calcgraph - a calculator whose results form a live dependency graph.
//
// Every evaluated expression becomes a node. Nodes can be combined into
// derived nodes, and editing a node recomputes everything derived from it.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/calcgraph-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
