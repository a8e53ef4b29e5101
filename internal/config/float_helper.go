package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Helper to get float64 env with default
func getEnvAsFloat64(key string, fallback float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return fallback
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		log.Printf("Warning: Invalid float64 for config %s=%q, using default %f", key, valueStr, fallback)
		return fallback
	}
	return val
}

// getEnvAsPct accepts either a fraction ("0.06") or a percent ("6%").
func getEnvAsPct(key string, fallback float64) float64 {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return fallback
	}
	divisor := 1.0
	if strings.HasSuffix(valueStr, "%") {
		valueStr = strings.TrimSuffix(valueStr, "%")
		divisor = 100
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		log.Printf("Warning: Invalid percent for config %s=%q, using default %f", key, os.Getenv(key), fallback)
		return fallback
	}
	return val / divisor
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return fallback
	}
	val, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid int for config %s=%q, using default %d", key, valueStr, fallback)
		return fallback
	}
	return val
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
