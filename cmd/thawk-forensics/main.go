package main

import (
	"os"

	"github.com/telhawk-systems/telhawk-forensics/internal/command"
	"github.com/telhawk-systems/telhawk-forensics/pkg/output"
)

func main() {
	if err := command.Execute(); err != nil {
		output.New().Error("%v", err)
		os.Exit(1)
	}
}
