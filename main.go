package main

import "undersounds/cmd"

func main() {
	cmd.Execute()
}
