// Package main provides the entry point for the token authentication service
package main

import "github.com/authz-engine/tokenauth/cmd/tokenauth/cmd"

func main() {
	cmd.Execute()
}
