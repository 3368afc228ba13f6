package testutil

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
)

func GetEnv(key string) string {
	err := godotenv.Load(filepath.Join(findProjectRoot(), ".env"))
	if err != nil {
		panic("Error loading .env file")
	}

	return os.Getenv(key)
}

func findProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)

	// Walk up the directory tree to find go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding go.mod
			panic("Could not find project root (go.mod not found)")
		}
		dir = parent
	}
}
