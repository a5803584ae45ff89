package main

import (
	"github.com/joho/godotenv"

	"github.com/browserq/browserq/internal/cli"
)

func main() {
	// Missing .env is fine; system environment still applies.
	_ = godotenv.Load()

	cli.Execute()
}
