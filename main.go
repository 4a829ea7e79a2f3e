package main

import "github.com/curaious/isobox/cmd"

func main() {
	cmd.Execute()
}
