package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fleetdeck/hostagent/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleEnvelope() api.ReportEnvelope {
	temp := 47.5
	return api.ReportEnvelope{
		Hostname:      "node-1.lab.example.com",
		AgentHostname: "rack1-node3",
		HostType:      "game server",
		NodeType:      "Docker Host",
		HostStatus: api.HostStatus{
			CPUPercent:     12.5,
			MemoryPercent:  40.1,
			DiskPercent:    71.3,
			UptimeSeconds:  86400,
			IP:             "10.0.0.12",
			RuntimeVersion: "Docker version 27.3.1, build ce12230",
			CPUTempCelsius: &temp,
		},
		Containers: []api.ContainerRecord{{
			Name:        "web",
			Status:      api.ContainerStatusRunning,
			Health:      api.HealthHealthy,
			CreatedAt:   "2024-01-15 10:30:00",
			IPAddresses: []string{"172.20.0.5"},
			Ports:       []string{"8080->80", "443/tcp"},
			Volumes:     []string{"/srv/web/html"},
		}},
	}
}

func TestOutputter_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewOutputter("json", &buf).PrintEnvelope(sampleEnvelope()))

	var decoded api.ReportEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, sampleEnvelope(), decoded)
}

func TestOutputter_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewOutputter("YAML", &buf).PrintEnvelope(sampleEnvelope()))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "rack1-node3", decoded["agent_hostname"])
	status := decoded["host_status"].(map[string]any)
	assert.Equal(t, "Docker version 27.3.1, build ce12230", status["docker_version"])
}

func TestOutputter_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewOutputter("table", &buf).PrintEnvelope(sampleEnvelope()))

	out := buf.String()
	assert.Contains(t, out, "node-1.lab.example.com")
	assert.Contains(t, out, "47.5")
	assert.Contains(t, out, "Containers (1)")
	assert.Contains(t, out, "8080->80")
}

func TestOutputter_TableWithoutTemperature(t *testing.T) {
	env := sampleEnvelope()
	env.HostStatus.CPUTempCelsius = nil
	env.Containers = nil

	var buf bytes.Buffer
	require.NoError(t, NewOutputter("table", &buf).PrintEnvelope(env))
	assert.Contains(t, buf.String(), "Containers (0)")
}

func TestOutputter_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := NewOutputter("xml", &buf).PrintEnvelope(sampleEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
