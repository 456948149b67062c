package main

import "impact-curator/internal/cli"

func main() {
	cli.Execute()
}
