package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"agentcore/pkg/config"
)

// runSetup interactively collects provider credentials and writes them to the
// encrypted secrets file under the project directory.
func runSetup(projectDir string) error {
	fmt.Println("🔐 agentcore credential setup")
	fmt.Println()
	fmt.Printf("Credentials are encrypted and stored in %s\n", filepath.Join(projectDir, config.ProjectConfigDir))
	fmt.Println("Press Enter to skip any provider you don't use.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	secrets := make(map[string]string)

	prompts := []struct {
		name  string
		label string
	}{
		{config.EnvAnthropicAPIKey, "Anthropic API key"},
		{config.EnvOpenAIAPIKey, "OpenAI API key"},
		{config.EnvGoogleAPIKey, "Google Gemini API key"},
		{config.EnvOpenRouterAPIKey, "OpenRouter API key"},
		{config.EnvOllamaHost, "Ollama host URL (e.g. http://localhost:11434)"},
	}
	for _, p := range prompts {
		fmt.Printf("Enter %s: ", p.label)
		if !scanner.Scan() {
			break
		}
		if value := strings.TrimSpace(scanner.Text()); value != "" {
			secrets[p.name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no credentials entered, nothing to save")
	}

	password, err := promptForPassword()
	if err != nil {
		return fmt.Errorf("failed to get password: %w", err)
	}

	fmt.Println()
	fmt.Println("🔐 Encrypting and saving credentials...")
	if err := config.EncryptSecretsFile(projectDir, password, secrets); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	fmt.Printf("✅ %d credential(s) saved (file permissions: 0600)\n", len(secrets))
	fmt.Printf("💡 Store the password in %s for passwordless startup.\n", config.EnvPassword)
	return nil
}

// promptForPassword prompts for an encryption password with confirmation.
func promptForPassword() (string, error) {
	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Println()
		fmt.Print("Enter a password for the credential store: ")
		password1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(password1, password2) {
			if attempt < maxAttempts {
				fmt.Println("❌ Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		password := string(password1)

		// Clear password bytes from memory
		for i := range password1 {
			password1[i] = 0
		}
		for i := range password2 {
			password2[i] = 0
		}

		return password, nil
	}

	return "", fmt.Errorf("failed to get matching passwords")
}
