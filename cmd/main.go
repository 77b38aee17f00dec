package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/clipso/clipso-backend/internal/app"
)

func main() {
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()
	if err := a.Run(); err != nil {
		a.Log.Error("Server failed", "error", err)
	}
}
