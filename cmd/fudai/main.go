package main

import (
	"github.com/joho/godotenv"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/cli"
)

func main() {
	// Provider credentials commonly live in a local .env during development;
	// a missing file is not an error.
	_ = godotenv.Load()

	cli.Execute()
}
