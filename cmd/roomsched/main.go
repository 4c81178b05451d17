package main

import "github.com/mdelorme/roomsched/internal/cli"

func main() {
	cli.Execute()
}
