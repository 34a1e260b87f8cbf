package main

import (
	"log"

	"llamabot/cmd/internal/passphrase"
	botd "llamabot/services/botd"
)

func main() {
	err := botd.Main(botd.WithPassphrase(func(envVar, label string) (string, error) {
		return passphrase.NewSource(envVar, label).Get()
	}))
	if err != nil {
		log.Fatalf("llamabotd: %v", err)
	}
}
