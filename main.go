package main

import "meterbook/internal/cli"

func main() {
	cli.Execute()
}
