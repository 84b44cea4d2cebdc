package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/grabscreen/grabscreen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
