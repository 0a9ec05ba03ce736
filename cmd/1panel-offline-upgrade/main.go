package main

import "github.com/oshokin/1panel-offline/cmd/1panel-offline-upgrade/cmd"

func main() {
	cmd.Execute()
}
