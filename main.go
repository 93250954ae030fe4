package main

import "github.com/galamiram/spotauth/cmd"

func main() {
	cmd.Execute()
}
