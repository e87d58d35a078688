package service

import (
	"testing"
)

func TestConnectionInfo_URL(t *testing.T) {
	conn := ConnectionInfo{
		Name:   "mqtt-broker",
		Scheme: "mqtt",
		Host:   "localhost",
		Port:   1883,
	}
	if got := conn.URL(); got != "mqtt://localhost:1883" {
		t.Errorf("URL() = %q, want %q", got, "mqtt://localhost:1883")
	}
}

func TestSpec_Validate(t *testing.T) {
	valid := Spec{
		Name:   "mqtt-broker",
		Image:  "eclipse-mosquitto:1.6",
		Scheme: "mqtt",
		Ports:  []PortMapping{{HostPort: 1883, ContainerPort: 1883}},
	}
	if err := valid.validate(); err != nil {
		t.Errorf("validate() on valid spec = %v", err)
	}

	missingName := valid
	missingName.Name = ""
	if err := missingName.validate(); err == nil {
		t.Error("expected error for missing name")
	}

	missingImage := valid
	missingImage.Image = ""
	if err := missingImage.validate(); err == nil {
		t.Error("expected error for missing image")
	}

	noPorts := valid
	noPorts.Ports = nil
	if err := noPorts.validate(); err == nil {
		t.Error("expected error for missing ports")
	}
}

func TestSpec_SchemeDefaultsToTCP(t *testing.T) {
	s := Spec{Name: "db", Image: "postgres:16"}
	if got := s.scheme(); got != "tcp" {
		t.Errorf("scheme() = %q, want tcp", got)
	}

	s.Scheme = "mqtt"
	if got := s.scheme(); got != "mqtt" {
		t.Errorf("scheme() = %q, want mqtt", got)
	}
}
