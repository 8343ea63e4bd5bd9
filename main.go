package main

import "github.com/agentic-research/cityxlink/cmd"

func main() {
	cmd.Execute()
}
