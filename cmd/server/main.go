package main

import "github.com/taskora/taskora-backend/internal/bootstrap"

func main() {
	bootstrap.Run()
}
