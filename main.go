package main

import "github.com/simrigs/rig-commander/cmd"

func main() {
	cmd.Execute()
}
