// Servowatch runs a background hang monitor over a set of demo workers. It
// is the quickest way to see the monitor, the web status server, and alert
// recording working together.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A .env file can preset SERVOWATCH_* variables. Missing files are
	// fine.
	_ = godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
