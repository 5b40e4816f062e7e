package main

import "github.com/thanatos/keyring/cli/cmd"

func main() {
	cmd.Execute()
}
