package main

import "github.com/eksodiastudio-coder/HelperAssistant/cmd"

func main() {
	cmd.Execute()
}
