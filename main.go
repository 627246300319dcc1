package main

import "github.com/nextlevelbuilder/botrelay/cmd"

func main() {
	cmd.Execute()
}
