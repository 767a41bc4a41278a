package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/auth-front/internal"
	"github.com/dgellow/auth-front/internal/config"
	"github.com/dgellow/auth-front/internal/log"
)

var BuildVersion = "dev"

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.Version,
		"server": map[string]any{
			"addr":    ":3000",
			"baseURL": "http://localhost:3000",
		},
		"oidc": map[string]any{
			"issuer":                "https://idp.example.com/",
			"clientId":              map[string]string{"$env": "OIDC_CLIENT_ID"},
			"clientSecret":          map[string]string{"$env": "OIDC_CLIENT_SECRET"},
			"redirectUri":           "http://localhost:3000/api/callback",
			"postLogoutRedirectUri": "http://localhost:3000/",
			"scope":                 "openid profile email offline_access",
			"httpTimeout":           "10s",
		},
		"session": map[string]any{
			"name":      "app_session",
			"secrets":   []any{map[string]string{"$env": "SESSION_SECRET"}},
			"path":      "/",
			"sameSite":  "lax",
			"secure":    true,
			"maxAge":    "24h",
			"chunkSize": 4000,
			"maxChunks": 10,
		},
		"routes": map[string]any{
			"login":    "/api/login",
			"callback": "/api/callback",
			"logout":   "/api/logout",
			"profile":  "/api/me",
			"landing":  "/",
			"account":  "/account",
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}
}

func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func printIssues(title string, issues []config.ValidationError) {
	if len(issues) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
		} else {
			fmt.Printf("  - %s\n", issue.Message)
		}
	}
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: FAIL (warnings present)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func serve(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.LogInfoWithFields("main", "Starting auth-front", map[string]any{
		"version": BuildVersion,
		"config":  path,
	})

	app, err := internal.NewAuthFront(cfg, BuildVersion)
	if err != nil {
		return err
	}
	return app.Run(context.Background())
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()

	switch {
	case *help:
		flag.Usage()
	case *version:
		fmt.Println(BuildVersion)
	case *configInit != "":
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
	case *conf == "":
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	case *validate:
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
	default:
		if err := serve(*conf); err != nil {
			log.LogError("auth-front stopped: %v", err)
			os.Exit(1)
		}
	}
}
