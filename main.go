package main

import "fusionbot/cmd"

func main() {
	cmd.Execute()
}
