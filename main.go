package main

import (
	"github.com/sidkik/cloudsave/cmd"
	"github.com/sidkik/cloudsave/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
