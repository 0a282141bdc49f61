package main

import "github.com/dragon-ia/dragond/cmd"

func main() {
	cmd.Execute()
}
