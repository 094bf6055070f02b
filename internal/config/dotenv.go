package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the first .env file found in the working directory or
// up to two parents. Missing files are fine: containers set the
// environment directly.
func LoadDotEnv() string {
	envPaths := []string{
		".env",
		"../../.env", // If running from bin/ subdirectory
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		grandParentDir := filepath.Dir(parentDir)

		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(grandParentDir, ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Fprintf(os.Stderr, "Loaded environment from: %s\n", absPath)
			return absPath
		}
	}

	fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables (OK for pods/containers)")
	return ""
}
