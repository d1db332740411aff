// Package main is the entry point of the bike-share collector.
package main

import (
	"os"
	_ "time/tzdata"

	"github.com/empi91/Bike-Sharing-Analytics/cmd/bikeshare/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
