package main

import "github.com/putreap/putreap/cmd"

func main() {
	cmd.Execute()
}
