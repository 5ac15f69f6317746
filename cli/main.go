package main

import "github.com/DavidPeltz/pinvault/cli/cmd"

func main() {
	cmd.Execute()
}
