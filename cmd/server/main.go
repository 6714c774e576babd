package main

import (
	"fmt"
	"os"

	"devdeakin/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "devdeakin:", err)
		os.Exit(1)
	}
}
