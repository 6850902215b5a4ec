package main

import "attestation-core/cmd/attctl/cmd"

func main() {
	cmd.Execute()
}
