package main

import "github.com/stywzn/vuln-sentinel/internal/cli"

func main() {
	cli.Execute()
}
