// ABOUTME: Interactive config generator for parley
// ABOUTME: Prompts for addresses, secrets, engine and push settings and writes parley.yaml

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/parley/internal/config"
)

// getDataPath returns the parley data directory.
// Priority: XDG_DATA_HOME/parley > ~/.local/share/parley
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "parley")
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("parley configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	dataPath := getDataPath()
	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8000")
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")
	role := prompt(reader, "Role (api/tasks/all)", config.RoleAll)

	fmt.Println("\n--- Storage ---")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(dataPath, "parley.db"))
	auditDir := prompt(reader, "Audit log directory", filepath.Join(dataPath, "chats"))

	fmt.Println("\n--- Secrets ---")
	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret = prompt(reader, "JWT secret", jwtSecret)
	backendSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating backend secret: %w", err)
	}
	backendSecret = prompt(reader, "Backend secret shared with the dialogue engine", backendSecret)

	fmt.Println("\n--- Dialogue Engine ---")
	engineURL := prompt(reader, "Engine webhook URL", "http://localhost:{port}/webhooks/rest/webhook")
	defaultLang := prompt(reader, "Default language", "EN")

	fmt.Println("\n--- Notifications ---")
	backend := prompt(reader, "Push backend (none/onesignal/matrix/telegram)", config.NotifyNone)

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# parley configuration\n")
	cfg.WriteString("# Generated by parley init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if grpcAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	}
	cfg.WriteString(fmt.Sprintf("  role: %q\n\n", role))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	cfg.WriteString(fmt.Sprintf("  backend_secret: %q\n\n", backendSecret))

	cfg.WriteString("chat:\n")
	cfg.WriteString("  bot_identity: \"bot\"\n")
	cfg.WriteString(fmt.Sprintf("  audit_dir: %q\n", auditDir))
	cfg.WriteString("  audit_timezone: \"Europe/Amsterdam\"\n")
	cfg.WriteString("  bridge_timeout: \"30s\"\n\n")

	cfg.WriteString("dialogue:\n")
	cfg.WriteString(fmt.Sprintf("  engine_url: %q\n", engineURL))
	cfg.WriteString("  tracker_url: \"http://localhost:{port}/conversations/{sender}/tracker/events\"\n")
	cfg.WriteString("  action_url: \"http://localhost:{port}/webhook\"\n")
	cfg.WriteString(fmt.Sprintf("  default_language: %q\n", defaultLang))
	cfg.WriteString("  timeout: \"30s\"\n\n")

	cfg.WriteString("notifications:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	cfg.WriteString("  timeout: \"10s\"\n")
	cfg.WriteString("  refresh_interval: \"1h\"\n\n")

	cfg.WriteString("tasks:\n")
	cfg.WriteString("  poll_interval: \"1s\"\n")
	cfg.WriteString("  stagger: \"10s\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  parley serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
