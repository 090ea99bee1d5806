package main

import "github.com/andresmejia3/focusedad/cmd"

func main() {
	cmd.Execute()
}
