package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadSecrets loads an optional .env file (idea-source API keys and
// similar) into the process environment, keeping them out of the flat
// JSON config file. A missing .env is not an error -- secrets are
// optional and most deployments configure the idea source via the
// platform's own secret store.
func LoadSecrets(envPath string) error {
	if envPath == "" {
		envPath = ".env"
	}
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(envPath)
}

// IdeaSourceAPIKey reads the idea-source API key from the environment.
func IdeaSourceAPIKey() string {
	return os.Getenv("MARCUS_IDEA_SOURCE_API_KEY")
}
