package main

import "github.com/saraphina-project/selfmod/internal/cli"

func main() {
	cli.Execute()
}
