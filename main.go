package main

import "github.com/depotgrab/depotgrab/cmd"

func main() {
	cmd.Execute()
}
