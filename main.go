package main

import "github.com/pulsebot/pulse/cmd"

func main() {
	cmd.Execute()
}
