package pipeline

import (
	"fmt"
	"strings"

	"testpipe/internal/service"
)

// ServiceEnvName derives the environment variable carrying a service's
// endpoint: upper-snake of the service name with a _URL suffix
// (e.g. "mqtt-broker" becomes MQTT_BROKER_URL).
func ServiceEnvName(serviceName string) string {
	var b strings.Builder
	for _, r := range serviceName {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String() + "_URL"
}

// BuildEnv assembles the full variable set visible to the test process:
// exactly one endpoint variable per started service, plus any configured
// extras. The set is complete before the runner starts; duplicate names are
// a configuration error rather than last-write-wins.
func BuildEnv(conns map[string]service.ConnectionInfo, extra map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(conns)+len(extra))

	for _, conn := range conns {
		name := ServiceEnvName(conn.Name)
		if _, exists := env[name]; exists {
			return nil, fmt.Errorf("%w: %s assembled twice from service specs", ErrEnvVarCollision, name)
		}
		env[name] = conn.URL()
	}

	for k, v := range extra {
		if _, exists := env[k]; exists {
			return nil, fmt.Errorf("%w: %s set by both a service and extra env", ErrEnvVarCollision, k)
		}
		env[k] = v
	}

	return env, nil
}
