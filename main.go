package main

import "facecam/cmd"

func main() {
	cmd.Execute()
}
