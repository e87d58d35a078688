package pipeline

import (
	"errors"
	"testing"

	"testpipe/internal/service"
)

func TestServiceEnvName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"mqtt-broker", "MQTT_BROKER_URL"},
		{"redis", "REDIS_URL"},
		{"db.primary", "DB_PRIMARY_URL"},
		{"s3", "S3_URL"},
		{"Already-Mixed", "ALREADY_MIXED_URL"},
	}
	for _, tc := range cases {
		if got := ServiceEnvName(tc.name); got != tc.want {
			t.Errorf("ServiceEnvName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestBuildEnv_ExactlyOneVariablePerService(t *testing.T) {
	conns := map[string]service.ConnectionInfo{
		"mqtt-broker": {Name: "mqtt-broker", Scheme: "mqtt", Host: "localhost", Port: 1883},
		"redis":       {Name: "redis", Scheme: "redis", Host: "localhost", Port: 6379},
	}

	env, err := BuildEnv(conns, nil)
	if err != nil {
		t.Fatalf("BuildEnv failed: %v", err)
	}

	if len(env) != 2 {
		t.Fatalf("env has %d entries, want 2: %v", len(env), env)
	}
	if got := env["MQTT_BROKER_URL"]; got != "mqtt://localhost:1883" {
		t.Errorf("MQTT_BROKER_URL = %q, want mqtt://localhost:1883", got)
	}
	if got := env["REDIS_URL"]; got != "redis://localhost:6379" {
		t.Errorf("REDIS_URL = %q, want redis://localhost:6379", got)
	}
}

func TestBuildEnv_MergesExtras(t *testing.T) {
	conns := map[string]service.ConnectionInfo{
		"mqtt-broker": {Name: "mqtt-broker", Scheme: "mqtt", Host: "localhost", Port: 1883},
	}
	extra := map[string]string{"PYTHONUNBUFFERED": "1"}

	env, err := BuildEnv(conns, extra)
	if err != nil {
		t.Fatalf("BuildEnv failed: %v", err)
	}
	if env["PYTHONUNBUFFERED"] != "1" {
		t.Errorf("PYTHONUNBUFFERED = %q, want 1", env["PYTHONUNBUFFERED"])
	}
	if len(env) != 2 {
		t.Errorf("env has %d entries, want 2: %v", len(env), env)
	}
}

func TestBuildEnv_CollisionWithExtra(t *testing.T) {
	conns := map[string]service.ConnectionInfo{
		"mqtt-broker": {Name: "mqtt-broker", Scheme: "mqtt", Host: "localhost", Port: 1883},
	}
	extra := map[string]string{"MQTT_BROKER_URL": "mqtt://elsewhere:1883"}

	_, err := BuildEnv(conns, extra)
	if !errors.Is(err, ErrEnvVarCollision) {
		t.Fatalf("expected ErrEnvVarCollision, got %v", err)
	}
}

func TestBuildEnv_CollisionBetweenServiceNames(t *testing.T) {
	// Distinct service names can still map to one variable name
	conns := map[string]service.ConnectionInfo{
		"mqtt-broker": {Name: "mqtt-broker", Scheme: "mqtt", Host: "localhost", Port: 1883},
		"mqtt.broker": {Name: "mqtt.broker", Scheme: "mqtt", Host: "localhost", Port: 1884},
	}

	_, err := BuildEnv(conns, nil)
	if !errors.Is(err, ErrEnvVarCollision) {
		t.Fatalf("expected ErrEnvVarCollision, got %v", err)
	}
}

func TestBuildEnv_Empty(t *testing.T) {
	env, err := BuildEnv(nil, nil)
	if err != nil {
		t.Fatalf("BuildEnv failed: %v", err)
	}
	if len(env) != 0 {
		t.Errorf("env = %v, want empty", env)
	}
}
