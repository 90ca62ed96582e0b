package main

import "github.com/nbhdai/aicl-oidc/cmd/aiclgw/cmd"

func main() {
	cmd.Execute()
}
