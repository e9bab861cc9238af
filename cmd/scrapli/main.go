package main

import "github.com/fehuapaya/scrapli/internal/cli"

func main() {
	cli.Execute()
}
