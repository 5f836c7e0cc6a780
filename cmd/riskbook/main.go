package main

import "github.com/rustyeddy/riskbook/internal/cli"

func main() {
	cli.Execute()
}
