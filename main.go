package main

import (
	"os"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
