package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/trajalign/traj"
)

const rgbFixture = `# color images
# timestamp filename
1305031102.175304 rgb/1305031102.175304.png
1305031102.211214 rgb/1305031102.211214.png
1305031102.243211 rgb/1305031102.243211.png
`

const depthFixture = `# depth maps
# timestamp filename
1305031102.160407 depth/1305031102.160407.png
1305031102.226738 depth/1305031102.226738.png
1305031102.262886 depth/1305031102.262886.png
`

const groundTruthFixture = `# timestamp tx ty tz qx qy qz qw
1.00 0 0 0 0 0 0 1
2.00 1 0 0 0 0 0 1
3.00 2 0 0 0 0 0 1
`

const estimateFixture = `1.01 0.1 0 0 0 0 0 1
2.00 1.1 0 0 0 0 0 1
9.00 5 0 0 0 0 0 1
`

func writeFixture(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// writeConfig creates a config with one pose pair and one list pair
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "groundtruth.txt", groundTruthFixture)
	writeFixture(t, dir, "estimate.txt", estimateFixture)
	writeFixture(t, dir, "rgb.txt", rgbFixture)
	writeFixture(t, dir, "depth.txt", depthFixture)
	return writeFixture(t, dir, "config.yaml", `
pairs:
  - name: desk
    first: groundtruth.txt
    second: estimate.txt
  - name: rgb-depth
    format: list
    first: rgb.txt
    second: depth.txt
`)
}

func floatPtr(v float64) *float64 { return &v }

func TestNewApp(t *testing.T) {
	app := NewApp()
	require.NotNil(t, app)
	assert.NotNil(t, app.Store, "Store should be initialized")
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	start, end := 1, -1
	opts := AppOptions{
		ConfigFile:    "test-config.yaml",
		First:         "a.txt",
		Second:        "b.txt",
		Format:        "pose",
		TieBreak:      "numeric",
		Verbose:       true,
		HTTPPort:      9090,
		Offset:        floatPtr(0.5),
		MaxDifference: floatPtr(0.1),
		Start:         &start,
		End:           &end,
	}
	app.ApplyOptions(opts)

	assert.Equal(t, "test-config.yaml", app.ConfigFile)
	assert.Equal(t, "a.txt", app.First)
	assert.Equal(t, "b.txt", app.Second)
	assert.Equal(t, "pose", app.Format)
	assert.Equal(t, "numeric", app.TieBreak)
	assert.True(t, app.Verbose)
	assert.Equal(t, 9090, app.HTTPPort)
	assert.Equal(t, 0.5, *app.Offset)
	assert.Equal(t, 0.1, *app.MaxDifference)
	assert.Equal(t, 1, *app.Start)
	assert.Equal(t, -1, *app.End)
}

func TestRunAssociate_FileLists(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.First = writeFixture(t, dir, "rgb.txt", rgbFixture)
	app.Second = writeFixture(t, dir, "depth.txt", depthFixture)

	var out bytes.Buffer
	require.NoError(t, app.RunAssociate(&out))
	assert.Equal(t,
		"1305031102.175304 1305031102.160407\n"+
			"1305031102.211214 1305031102.226738\n"+
			"1305031102.243211 1305031102.262886\n",
		out.String())
}

func TestRunAssociate_Verbose(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.First = writeFixture(t, dir, "rgb.txt", rgbFixture)
	app.Second = writeFixture(t, dir, "depth.txt", depthFixture)
	app.Verbose = true
	start, end := 0, 1
	app.Start, app.End = &start, &end

	var out bytes.Buffer
	require.NoError(t, app.RunAssociate(&out))
	assert.Equal(t,
		"1305031102.175304 rgb/1305031102.175304.png 1305031102.160407 depth/1305031102.160407.png\n",
		out.String())
}

func TestRunAssociate_Poses(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.Format = traj.FormatPose
	app.First = writeFixture(t, dir, "gt.txt", groundTruthFixture)
	app.Second = writeFixture(t, dir, "est.txt", estimateFixture)

	var out bytes.Buffer
	require.NoError(t, app.RunAssociate(&out))
	assert.Equal(t, "1.00 1.01\n2.00 2.00\n", out.String())

	out.Reset()
	app.Verbose = true
	app.MaxDifference = floatPtr(0.001)
	require.NoError(t, app.RunAssociate(&out))
	assert.Equal(t, "2.00 1 0 0 0 0 0 1 2.00 1.1 0 0 0 0 0 1\n", out.String())
}

func TestRunAssociate_Offset(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.First = writeFixture(t, dir, "a.txt", "11.0 a\n12.0 b\n")
	app.Second = writeFixture(t, dir, "b.txt", "1.0 x\n2.0 y\n")
	app.Offset = floatPtr(10)

	var out bytes.Buffer
	require.NoError(t, app.RunAssociate(&out))
	assert.Equal(t, "11.0 1.0\n12.0 2.0\n", out.String())
}

func TestRunAssociate_Errors(t *testing.T) {
	dir := t.TempDir()
	good := writeFixture(t, dir, "good.txt", rgbFixture)

	app := NewApp()
	app.First = filepath.Join(dir, "missing.txt")
	app.Second = good
	assert.Error(t, app.RunAssociate(io.Discard))

	app.First = good
	app.Format = "csv"
	err := app.RunAssociate(io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "csv"`)

	app.Format = traj.FormatList
	app.Second = writeFixture(t, dir, "bad.txt", "not-a-stamp file.png\n")
	err = app.RunAssociate(io.Discard)
	assert.ErrorIs(t, err, traj.ErrInvalidStamp)
}

func TestRunEvaluate(t *testing.T) {
	app := NewApp()
	app.ConfigFile = writeConfig(t)

	var out bytes.Buffer
	require.NoError(t, app.RunEvaluate(&out))

	text := out.String()
	assert.Contains(t, text, "=== desk ===")
	assert.Contains(t, text, "=== rgb-depth ===")
	assert.Less(t, strings.Index(text, "=== desk ==="), strings.Index(text, "=== rgb-depth ==="))
	assert.Contains(t, text, "Matched: 2/3 (66.7%), unmatched second: 1")
	assert.Contains(t, text, "Matched: 3/3 (100.0%), unmatched second: 0")

	assert.Equal(t, []string{"desk", "rgb-depth"}, app.Store.Names())
}

func TestRunEvaluate_Overrides(t *testing.T) {
	app := NewApp()
	app.ConfigFile = writeConfig(t)
	app.MaxDifference = floatPtr(0.001)
	app.TieBreak = "numeric"

	var out bytes.Buffer
	require.NoError(t, app.RunEvaluate(&out))

	ev, ok := app.Store.Get("desk")
	require.True(t, ok)
	assert.Equal(t, 0.001, ev.MaxDifference)
	assert.Equal(t, traj.TieBreakNumeric, ev.TieBreak)
	assert.Equal(t, []traj.Match{{First: "2.00", Second: "2.00"}}, ev.Matches)
}

func TestRunEvaluate_ConfigErrors(t *testing.T) {
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	err := app.RunEvaluate(io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	app.ConfigFile = writeConfig(t)
	app.MaxDifference = floatPtr(-1)
	err = app.RunEvaluate(io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxDifference must be positive")
}

func TestEvaluatePair(t *testing.T) {
	app := NewApp()
	_, err := app.evaluatePair(context.Background(), "desk")
	assert.ErrorIs(t, err, traj.ErrUnknownPair)

	app.ConfigFile = writeConfig(t)
	require.NoError(t, app.loadConfig())

	_, err = app.evaluatePair(context.Background(), "nope")
	assert.ErrorIs(t, err, traj.ErrUnknownPair)

	ev, err := app.evaluatePair(context.Background(), "desk")
	require.NoError(t, err)
	stored, ok := app.Store.Get("desk")
	require.True(t, ok)
	assert.Same(t, ev, stored)
}

func TestEvaluatePair_Publishes(t *testing.T) {
	app := NewApp()
	app.ConfigFile = writeConfig(t)
	require.NoError(t, app.loadConfig())

	client := traj.NewMockClient()
	client.SetConnected(true)
	app.Publisher = traj.NewPublisher(client, "test")

	_, err := app.evaluatePair(context.Background(), "desk")
	require.NoError(t, err)

	msg, ok := client.LastPublished("test/desk/matches")
	require.True(t, ok)
	var payload traj.MatchesMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "desk", payload.Pair)
	assert.Len(t, payload.Matches, 2)
}

func TestPublishWhenConnected(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app := NewApp()
	app.ConfigFile = writeConfig(t)
	require.NoError(t, app.loadConfig())
	_, err := app.evaluatePair(context.Background(), "desk")
	require.NoError(t, err)

	client := traj.NewMockClient()
	client.SetConnected(true)
	app.MQTTClient = traj.NewMQTTClientWithClient(client, app.Config, nil)
	app.Publisher = traj.NewPublisher(client, app.MQTTClient.Prefix())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.publishWhenConnected(ctx, time.Millisecond)

	_, ok := client.LastPublished(traj.DefaultPublishPrefix + "/desk/matches")
	assert.True(t, ok)
	_, ok = client.LastPublished(traj.DefaultPublishPrefix + "/pairs")
	assert.True(t, ok)
}

func TestStartMQTT_HandlesQueuedRequest(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app := NewApp()
	app.ConfigFile = writeConfig(t)
	require.NoError(t, app.loadConfig())

	ctx := context.Background()
	client := traj.NewMockClient()
	mqttClient := traj.NewMQTTClientWithClient(client, app.Config, func(pair string) {
		_, err := app.evaluatePair(ctx, pair)
		assert.NoError(t, err)
	})
	// Redelivered as soon as the subscription is made on connect
	client.QueueMessage(mqttClient.EvaluateTopic(), []byte(`{"pair":"desk"}`))

	app.startMQTT(mqttClient)

	require.Eventually(t, func() bool {
		_, ok := client.LastPublished(traj.DefaultPublishPrefix + "/desk/matches")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Same(t, mqttClient, app.MQTTClient)
	assert.True(t, mqttClient.IsConnected())
	_, ok := app.Store.Get("desk")
	assert.True(t, ok)
}

func TestServe(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app := NewApp()
	app.ConfigFile = writeConfig(t)
	require.NoError(t, app.loadConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := fmt.Sprintf("http://%s", ln.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	// Initial evaluation runs before the server starts accepting requests
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(base + "/pairs/desk")
		if err != nil {
			return false
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	var ev traj.Evaluation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	resp.Body.Close()
	assert.Equal(t, "desk", ev.Pair)
	assert.Len(t, ev.Matches, 2)
	assert.Nil(t, app.MQTTClient, "MQTT stays disabled without a broker")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
