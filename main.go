package main

import "github.com/afzalimdad9/treantai/cmd"

func main() {
	cmd.Execute()
}
