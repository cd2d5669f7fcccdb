package main

import (
	"fmt"
	"os"

	"github.com/scenescout/meld/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "meld-api: %v\n", err)
		os.Exit(1)
	}
}
