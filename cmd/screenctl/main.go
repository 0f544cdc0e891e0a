package main

import "chain-screening/internal/cli"

func main() {
	cli.Execute()
}
