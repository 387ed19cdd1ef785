package main

import (
	"github.com/matjam/kmsd/internal/cli"
)

func main() {
	cli.Execute()
}
