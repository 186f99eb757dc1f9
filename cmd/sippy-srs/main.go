package main

import (
	"github.com/sippy/Sippy-Recorder/internal/app"
)

func main() {
	app.Init()
	app.Run()
}
