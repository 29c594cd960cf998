package main

import "github.com/eduquiz/rewards/internal/cli"

func main() {
	cli.Execute()
}
