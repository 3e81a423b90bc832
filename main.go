package main

import "github.com/arachne-bridge/arachne/cmd"

func main() {
	cmd.Execute()
}
