package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"imbalance-watch/internal/cli"
)

func main() {
	// .env is optional; real environment variables win over its values.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cli.Execute()
}
