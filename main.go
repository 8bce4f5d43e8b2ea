package main

import "github.com/sokocart/sokocart/cmd"

func main() {
	cmd.Execute()
}
