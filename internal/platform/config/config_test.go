package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "kanili-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Jobs.ProjectID != "kanili-dev" {
		t.Errorf("expected jobs project to default to firestore project, got %s", cfg.Jobs.ProjectID)
	}
	if cfg.Points.MaxRedeemBasisPoints != defaultMaxRedeemBasisPoints {
		t.Errorf("unexpected max redeem basis points: %d", cfg.Points.MaxRedeemBasisPoints)
	}
	if cfg.Points.RedeemLockTTL != defaultRedeemLockTTL {
		t.Errorf("unexpected redeem lock ttl: %s", cfg.Points.RedeemLockTTL)
	}
	if cfg.Shipping.DefaultLineWeightGrams != defaultLineWeightGrams {
		t.Errorf("unexpected default line weight: %d", cfg.Shipping.DefaultLineWeightGrams)
	}
	if cfg.Gateway.SignatureHeader != defaultGatewaySigHeader {
		t.Errorf("expected default signature header, got %s", cfg.Gateway.SignatureHeader)
	}
	if cfg.Gateway.UserIDHeader != defaultUserIDHeader {
		t.Errorf("expected default user id header, got %s", cfg.Gateway.UserIDHeader)
	}
	if cfg.Jobs.ReminderDelay != defaultReminderDelay {
		t.Errorf("unexpected reminder delay: %s", cfg.Jobs.ReminderDelay)
	}
	if cfg.Jobs.ReminderTopic != "payment-reminders" {
		t.Errorf("unexpected reminder topic: %s", cfg.Jobs.ReminderTopic)
	}
	if cfg.Webhooks.EventTTL != defaultWebhookEventTTL {
		t.Errorf("unexpected webhook event ttl: %s", cfg.Webhooks.EventTTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                        "9090",
		"API_SERVER_READ_TIMEOUT":                "20s",
		"API_SERVER_IDLE_TIMEOUT":                "2m",
		"API_FIRESTORE_PROJECT_ID":               "kanili-prod",
		"API_GATEWAY_SIGNING_SECRET":             "secret://gateway/signing",
		"API_GATEWAY_HEADER_SIGNATURE":           "X-Custom-Signature",
		"API_GATEWAY_CLOCK_SKEW":                 "3m",
		"API_POINTS_MAX_REDEEM_BP":               "2500",
		"API_POINTS_EARN_RATE_BP":                "150",
		"API_POINTS_REDEEM_LOCK_TTL":             "10m",
		"API_SHIPPING_DEFAULT_LINE_WEIGHT_GRAMS": "450",
		"API_JOBS_PROJECT_ID":                    "kanili-jobs",
		"API_JOBS_REMINDER_TOPIC":                "reminders-prod",
		"API_JOBS_REMINDER_DELAY":                "30m",
	}

	secrets := map[string]string{
		"secret://gateway/signing": "gateway-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Gateway.SigningSecret != "gateway-secret" {
		t.Errorf("expected resolved gateway secret, got %s", cfg.Gateway.SigningSecret)
	}
	if cfg.Gateway.SignatureHeader != "X-Custom-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Gateway.SignatureHeader)
	}
	if cfg.Gateway.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Gateway.ClockSkew)
	}
	if cfg.Points.MaxRedeemBasisPoints != 2500 {
		t.Errorf("unexpected max redeem basis points %d", cfg.Points.MaxRedeemBasisPoints)
	}
	if cfg.Points.EarnRateBasisPoints != 150 {
		t.Errorf("unexpected earn rate %d", cfg.Points.EarnRateBasisPoints)
	}
	if cfg.Points.RedeemLockTTL != 10*time.Minute {
		t.Errorf("unexpected redeem lock ttl %s", cfg.Points.RedeemLockTTL)
	}
	if cfg.Shipping.DefaultLineWeightGrams != 450 {
		t.Errorf("unexpected default line weight %d", cfg.Shipping.DefaultLineWeightGrams)
	}
	if cfg.Jobs.ProjectID != "kanili-jobs" {
		t.Errorf("unexpected jobs project %s", cfg.Jobs.ProjectID)
	}
	if cfg.Jobs.ReminderTopic != "reminders-prod" {
		t.Errorf("unexpected reminder topic %s", cfg.Jobs.ReminderTopic)
	}
	if cfg.Jobs.ReminderDelay != 30*time.Minute {
		t.Errorf("unexpected reminder delay %s", cfg.Jobs.ReminderDelay)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=kanili-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "kanili-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadRejectsInvalidRedeemCap(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "kanili-dev",
		"API_POINTS_MAX_REDEEM_BP": "12000",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validationErr.Fields()
	if len(fields) != 1 || fields[0] != "Points.MaxRedeemBasisPoints" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":   "kanili-dev",
		"API_GATEWAY_SIGNING_SECRET": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "kanili-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Gateway.SigningSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Gateway.SigningSecret" {
		t.Fatalf("unexpected missing secrets %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":   "kanili-dev",
		"API_GATEWAY_SIGNING_SECRET": "sm://gateway/signing",
	}

	secrets := map[string]string{
		"secret://gateway/signing": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gateway.SigningSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Gateway.SigningSecret)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_JOBS_REMINDER_TOPIC=dot-reminders\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_JOBS_REMINDER_TOPIC"]; got != "dot-reminders" {
		t.Fatalf("expected dotenv reminder topic, got %s", got)
	}
}
