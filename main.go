package main

import "github.com/sergev/fluxdec/cmd"

func main() {
	cmd.Execute()
}
