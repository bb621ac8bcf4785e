package main

import (
	"github.com/luma/calypso/cmd"
)

func main() {
	cmd.Execute()
}
