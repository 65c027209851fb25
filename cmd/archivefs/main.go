package main

import "github.com/aweris/archivefs/cmd/archivefs/cmd"

func main() {
	cmd.Execute()
}
