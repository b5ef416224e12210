package main

import "github.com/LENAX/agent-hub/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
