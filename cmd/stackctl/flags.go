package main

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath   string
	BackendPort  int
	FrontendPort int
	Verbose      bool
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Open bool // open the frontend in a browser after start
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	Force bool // skip the graceful drain and terminate immediately
}

// FrontendFlags holds flags for the frontend command.
type FrontendFlags struct {
	Addr string
	Dir  string
}
