package main

import "github.com/tanpawarit/Chative-Policy-Harness/cli"

func main() {
	cli.Execute()
}
