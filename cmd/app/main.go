package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/yerzhan-dev/manybot/internal/app"
)

func main() {
	configPath := flag.String("config", "", "directory holding config.yaml")
	flag.Parse()

	if err := app.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
