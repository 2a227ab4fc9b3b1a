package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gacybercenter/openstack-top-graph/db/clickhouse"
	"github.com/gacybercenter/openstack-top-graph/decision/pipeline"
	"github.com/gacybercenter/openstack-top-graph/pkg/api"
)

const stackTemplate = `
description: small lab
parameters:
  cidr:
    type: string
    default: 10.1.0.0/24
resources:
  router:
    type: OS::Neutron::Router
  net:
    type: OS::Neutron::Net
  subnet:
    type: OS::Neutron::Subnet
    properties:
      network: {get_resource: net}
      cidr: {get_param: cidr}
  port:
    type: OS::Neutron::Port
    properties:
      network: {get_resource: net}
      fixed_ips: [{subnet: {get_resource: subnet}}]
  server:
    type: OS::Nova::Server
    properties:
      name: {list_join: ["-", [{get_param: OS::stack_name}, "web"]]}
      user_data: {get_file: boot.sh}
      networks: [{port: {get_resource: port}}]
`

func writeStack(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.sh"), []byte("#!/bin/sh\necho up\n"), 0o600))
	path := filepath.Join(dir, "lab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stackTemplate), 0o600))
	return path
}

func runApp(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run(append([]string{"heattopo", "--log-level", "error"}, args...)))
	return out.String()
}

func TestGraphCommandJSON(t *testing.T) {
	path := writeStack(t)
	out := runApp(t, "graph", "-t", path, "--stack-name", "lab")

	var resp api.GraphResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "lab.yaml", resp.Graph.Title)
	assert.Equal(t, "small lab", resp.Graph.Description)
	assert.Empty(t, resp.Warnings)

	var server *api.Node
	for i := range resp.Graph.Nodes {
		if resp.Graph.Nodes[i].Name == "server" {
			server = &resp.Graph.Nodes[i]
		}
	}
	require.NotNil(t, server)

	var data map[string]any
	require.NoError(t, json.Unmarshal(server.Data, &data))
	assert.Equal(t, "lab-web", data["name"])
	assert.Equal(t, "#!/bin/sh\necho up\n", data["user_data"])
}

func TestGraphCommandMergeTable(t *testing.T) {
	path := writeStack(t)
	out := runApp(t, "graph", "-t", path, "--merge", "-f", "table", "--verbose", "--name", "Lab")

	assert.Contains(t, out, "Lab\nsmall lab\n")
	assert.Contains(t, out, "Server_Port")
	assert.NotContains(t, out, " Port ")
	assert.Contains(t, out, "  subnet -> server\n")
	assert.Contains(t, out, "10.1.0.0/24")
}

func TestGraphCommandMissingTemplate(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"heattopo", "--log-level", "error", "graph", "-t", filepath.Join(t.TempDir(), "none.yaml")})
	assert.ErrorContains(t, err, "failed to read template")
}

func sampleResult(t *testing.T) *pipeline.Result {
	t.Helper()
	res, err := pipeline.New(nil, nil).Run(context.Background(), &pipeline.Request{
		Template: []byte(`
description: demo
resources:
  router:
    type: OS::Neutron::Router
  sg:
    type: OS::Neutron::SecurityGroup
  untyped: {}
`),
		Title: "demo|graph",
	})
	require.NoError(t, err)
	return res
}

func TestOutputMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputMarkdown(&buf, sampleResult(t)))
	out := buf.String()

	assert.Contains(t, out, "## demo|graph\n")
	assert.Contains(t, out, "| Router | 1 |\n")
	assert.Contains(t, out, "| SecurityGroup | 1 |\n")
	assert.Contains(t, out, "- `router` -> `cloud`\n")
	assert.Contains(t, out, "### Warnings")
	assert.Contains(t, out, "INVALID_RESOURCE (untyped)")
}

func TestOutputTableWarnings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputTable(&buf, sampleResult(t), false))
	assert.Contains(t, buf.String(), "WARNINGS\n")
	assert.Contains(t, buf.String(), "  router -> cloud\n")
}

func TestOutputSnapshots(t *testing.T) {
	id := uuid.MustParse("0b7e7f3c-8d4f-4a55-9f0e-2b6f9c1a7d11")
	snapshots := []*clickhouse.TopologySnapshot{{
		ID:        id,
		Title:     "lab",
		NodeCount: 6,
		LinkCount: 5,
		CreatedAt: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
	}}

	var table bytes.Buffer
	require.NoError(t, outputSnapshots(&table, snapshots, "table"))
	assert.Contains(t, table.String(), id.String())
	assert.Contains(t, table.String(), "2024-05-01 08:30:00")

	var js bytes.Buffer
	require.NoError(t, outputSnapshots(&js, snapshots, "json"))
	var list api.SnapshotList
	require.NoError(t, json.Unmarshal(js.Bytes(), &list))
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, 6, list.Snapshots[0].NodeCount)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
