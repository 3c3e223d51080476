package main

import "github.com/deckforge/deckd/internal/cli"

func main() {
	cli.Execute()
}
