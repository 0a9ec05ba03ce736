package main

import "github.com/oshokin/1panel-offline/cmd/1panel-offline-build/cmd"

func main() {
	cmd.Execute()
}
