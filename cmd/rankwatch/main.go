package main

import (
	"rank-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
