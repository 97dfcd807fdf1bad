package main

import "packshare/cmd"

func main() {
	cmd.Execute()
}
