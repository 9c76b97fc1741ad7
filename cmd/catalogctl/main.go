package main

import "github.com/timmy/catalogsync/internal/cli"

func main() {
	cli.Execute()
}
