package app

// Version is overridden at build time through -ldflags "-X app-fritzbutton-go.Version=...".
var Version = "0.0.0"
