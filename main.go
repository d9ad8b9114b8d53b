package main

import "github.com/webitel/cdr-exporter/cmd"

func main() {
	cmd.Execute()
}
