package main

import (
	"github.com/pagewarden/pagewarden/cmd"
)

func main() {
	cmd.Execute()
}
