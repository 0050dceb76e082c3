package main

import "github.com/lucyhq/lucy/cmd"

func main() {
	cmd.Execute()
}
