package main

import (
	"os"
	"strconv"
	"time"

	"jobrelay/internal/adapter"
	"jobrelay/internal/queue"
)

type config struct {
	ServerPort string
	BaseURL    string
	AppName    string
	MaxWait    int
	Debug      bool

	// JOB_QUEUE_URL empty means standalone mode.
	QueueURL     string
	QueueName    string
	ResultPrefix string
	ResultTTL    time.Duration
	Concurrency  int
	APIAddr      string
}

func loadConfig() config {
	port := getenv("SERVER_PORT", "8080")
	return config{
		ServerPort:   port,
		BaseURL:      "http://localhost:" + port,
		AppName:      getenv("APP_NAME", adapter.DefaultAppName),
		MaxWait:      getenvInt("MAX_WAIT_SECONDS", adapter.DefaultMaxWait),
		Debug:        getenvBool("LOG_DEBUG"),
		QueueURL:     os.Getenv("JOB_QUEUE_URL"),
		QueueName:    getenv("JOB_QUEUE_NAME", queue.DefaultQueue),
		ResultPrefix: getenv("JOB_RESULT_PREFIX", queue.DefaultResultPrefix),
		ResultTTL:    getenvDuration("JOB_RESULT_TTL", queue.DefaultResultTTL),
		Concurrency:  getenvInt("WORKER_CONCURRENCY", 1),
		APIAddr:      getenv("API_ADDR", ":8000"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getenvBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
