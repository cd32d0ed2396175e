package main

import "github.com/kozaktomas/facematch/cmd"

func main() {
	cmd.Execute()
}
