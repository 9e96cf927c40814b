package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fleetdeck/hostagent/pkg/api"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format of the inspect command
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// Outputter renders a report envelope
type Outputter struct {
	format OutputFormat
	writer io.Writer
}

// NewOutputter creates a new outputter
func NewOutputter(format string, w io.Writer) *Outputter {
	return &Outputter{
		format: OutputFormat(strings.ToLower(format)),
		writer: w,
	}
}

// PrintEnvelope outputs an envelope in the configured format
func (o *Outputter) PrintEnvelope(envelope api.ReportEnvelope) error {
	switch o.format {
	case OutputJSON:
		encoder := json.NewEncoder(o.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(envelope)
	case OutputYAML:
		encoder := yaml.NewEncoder(o.writer)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(envelope)
	case OutputTable:
		return o.printTables(envelope)
	default:
		return fmt.Errorf("unknown output format: %s", o.format)
	}
}

func (o *Outputter) printTables(envelope api.ReportEnvelope) error {
	status := envelope.HostStatus

	temp := "-"
	if status.CPUTempCelsius != nil {
		temp = strconv.FormatFloat(*status.CPUTempCelsius, 'f', 1, 64)
	}

	fmt.Fprintln(o.writer, "Host")
	if err := o.printTable([]string{"Field", "Value"}, [][]string{
		{"hostname", envelope.Hostname},
		{"agent_hostname", envelope.AgentHostname},
		{"type", envelope.NodeType},
		{"host_type", envelope.HostType},
		{"ip", status.IP},
		{"docker_version", status.RuntimeVersion},
		{"cpu_percent", strconv.FormatFloat(status.CPUPercent, 'f', 1, 64)},
		{"memory_percent", strconv.FormatFloat(status.MemoryPercent, 'f', 1, 64)},
		{"disk_percent", strconv.FormatFloat(status.DiskPercent, 'f', 1, 64)},
		{"uptime", strconv.FormatInt(status.UptimeSeconds, 10)},
		{"cpu_temp", temp},
	}); err != nil {
		return err
	}

	rows := make([][]string, 0, len(envelope.Containers))
	for _, c := range envelope.Containers {
		rows = append(rows, []string{
			c.Name,
			string(c.Status),
			string(c.Health),
			c.CreatedAt,
			strings.Join(c.IPAddresses, ","),
			strings.Join(c.Ports, ","),
			strings.Join(c.Volumes, ","),
		})
	}

	fmt.Fprintf(o.writer, "\nContainers (%d)\n", len(rows))
	return o.printTable([]string{"Name", "Status", "Health", "Created", "IP Addresses", "Ports", "Volumes"}, rows)
}

func (o *Outputter) printTable(headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(o.writer)

	headerAny := make([]any, len(headers))
	for i, h := range headers {
		headerAny[i] = h
	}
	table.Header(headerAny...)

	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
