package main

import "github.com/labsync/agent/cmd"

func main() {
	cmd.Execute()
}
