package main

import "github.com/aboutPJS/price-api/internal/cli"

func main() {
	cli.Execute()
}
