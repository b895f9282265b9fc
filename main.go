package main

import "github.com/TDG-AI/HA-TrueX/cmd"

func main() {
	cmd.Execute()
}
