package main

import (
	"log"

	"github.com/nvops/ticket-triage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
