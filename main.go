package main

import (
	_ "go.uber.org/automaxprocs"

	root "github.com/zkattest/nitro-prover/cmd"
)

func main() {
	root.Execute()
}
