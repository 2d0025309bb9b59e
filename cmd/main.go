package main

import (
	app "app-fritzbutton-go"
	"app-fritzbutton-go/internal/pkg/startup"
	"fmt"
)

const AppName = "app-fritzbutton-go"

func main() {
	fmt.Printf("Starting application: %s with app instance: %+v\n", AppName, app.Version)
	startup.BootStrap(AppName, app.Version)
}
