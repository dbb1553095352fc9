package main

import (
	"log"

	"github.com/tidehook/tidehook/cmd/tidectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
