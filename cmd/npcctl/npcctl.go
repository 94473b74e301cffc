package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/kiosk404/npcmaker/internal/npcctl/cmd"
)

func main() {
	root := cmd.NewDefaultNpcCtlCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
