package main

import "github.com/MeKo-Tech/mapbridge/internal/cmd"

func main() {
	cmd.Execute()
}
