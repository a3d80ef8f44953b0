package main

import "github.com/andresmejia3/glint/cmd"

func main() {
	cmd.Execute()
}
