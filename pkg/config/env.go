package config

import (
	"os"
	"strings"
)

// Env holds process-level settings and secrets read from the
// environment at startup. Feature flags are read separately (and
// refreshably) by LoadFlags.
type Env struct {
	HTTPPort string
	AppEnv   string

	RedisAddr string

	SlackBotToken      string
	SlackSigningSecret string

	ServiceNowBaseURL       string
	ServiceNowToken         string
	ServiceNowUsername      string
	ServiceNowPassword      string
	ServiceNowWebhookSecret string
	ServiceNowWebhookToken  string

	AnthropicAPIKey    string
	OpenAIAPIKey       string
	CaseEmbeddingModel string

	QueueSigningKey string
	WorkerURL       string

	EscalationChannelID string
	TriageChannelID     string

	AdminBearerToken string
	CronToken        string
}

// LoadEnv reads the environment into an Env. Missing optional values
// stay empty; validation of required ones happens where they are used
// so a dev setup without Slack or Redis still starts.
func LoadEnv() *Env {
	return &Env{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		AppEnv:   getEnvOrDefault("APP_ENV", "development"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),

		ServiceNowBaseURL:       os.Getenv("SERVICENOW_BASE_URL"),
		ServiceNowToken:         os.Getenv("SERVICENOW_TOKEN"),
		ServiceNowUsername:      os.Getenv("SERVICENOW_USERNAME"),
		ServiceNowPassword:      os.Getenv("SERVICENOW_PASSWORD"),
		ServiceNowWebhookSecret: os.Getenv("SERVICENOW_WEBHOOK_SECRET"),
		ServiceNowWebhookToken:  os.Getenv("SERVICENOW_WEBHOOK_TOKEN"),

		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		CaseEmbeddingModel: getEnvOrDefault("CASE_EMBEDDING_MODEL", "text-embedding-3-small"),

		QueueSigningKey: os.Getenv("QUEUE_SIGNING_KEY"),
		WorkerURL:       os.Getenv("WORKER_URL"),

		EscalationChannelID: os.Getenv("ESCALATION_CHANNEL_ID"),
		TriageChannelID:     os.Getenv("TRIAGE_CHANNEL_ID"),

		AdminBearerToken: os.Getenv("ADMIN_BEARER_TOKEN"),
		CronToken:        os.Getenv("CRON_TOKEN"),
	}
}

// IsDevelopment reports whether the process runs without admin/cron
// bearer enforcement.
func (e *Env) IsDevelopment() bool {
	return strings.EqualFold(e.AppEnv, "development") || strings.EqualFold(e.AppEnv, "dev")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
