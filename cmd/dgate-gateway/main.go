package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/drivegate-io/drivegate/cmd/dgate-gateway/app"
)

func main() {
	app.NewApp().Run()
}
