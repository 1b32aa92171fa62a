package main

import (
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kamune-org/taskbag/cmd/taskbag/run"
)

func main() {
	_, _ = maxprocs.Set()
	if err := run.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
