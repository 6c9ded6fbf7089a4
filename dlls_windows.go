package main

import (
	"golang.org/x/sys/windows"
)

func loadLibrary(path string) error {
	_, err := windows.LoadLibrary(path)
	return err
}

// vim: ai:ts=8:sw=8:noet:syntax=go
