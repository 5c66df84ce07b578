package main

import "github.com/licenseworks/ms-go-paygate/cmd"

func main() {
	cmd.Execute()
}
