package main

import "github.com/edgeflare/pgfan/cmd/pgfan"

func main() {
	pgfan.Main()
}
