package main

import "github.com/hb-chen/skillexec/cmd"

func main() {
	cmd.Execute()
}
