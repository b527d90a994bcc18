package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-twin/twinsim/sim/bridge"
	"github.com/plant-twin/twinsim/sim/defn"
	"github.com/plant-twin/twinsim/sim/objects"
	"github.com/plant-twin/twinsim/sim/predictor"
	"github.com/plant-twin/twinsim/sim/server"
	"github.com/plant-twin/twinsim/sim/trace"
)

// resetFlags restores every package flag to its default for the test.
func resetFlags(t *testing.T) {
	t.Helper()
	seed, logLevel = 42, "error"
	defnPath, defnID, storeRoot, modelsPath = "", "", t.TempDir(), ""
	plantMixers, ticks, mixerName, outputPath = 1, 1000, "Mixer100", ""
	observeURL, observeNames, observeInterval, observeSamples = "", nil, time.Second, 10
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunRecipe_WritesCSVSeries(t *testing.T) {
	// GIVEN the generated one-mixer plant
	resetFlags(t)
	ticks = 50

	// WHEN run
	var buf bytes.Buffer
	require.NoError(t, runRecipe(context.Background(), &buf))

	// THEN one header and one row per tick are written
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 51)
	assert.Equal(t, "tick,phase,level,temperature,inlet1,inlet2,outlet", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,fill1,"))
}

func TestRunRecipe_RejectsZeroTicks(t *testing.T) {
	resetFlags(t)
	ticks = 0

	assert.Error(t, runRecipe(context.Background(), io.Discard))
}

func TestRunRecipe_UnknownMixer(t *testing.T) {
	resetFlags(t)
	ticks = 5
	mixerName = "Mixer900"

	err := runRecipe(context.Background(), io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mixer900")
}

func TestLoadDefinition_Selection(t *testing.T) {
	resetFlags(t)

	// GIVEN no selection flags
	d, err := loadDefinition(context.Background())
	require.NoError(t, err)

	// THEN the generated plant is used
	want, err := objects.MixingPlant(1)
	require.NoError(t, err)
	assert.Equal(t, want.ID(), d.ID())

	// WHEN both a file and an id are given
	defnPath, defnID = "plant.yaml", "abcd-ef01"
	_, err = loadDefinition(context.Background())

	// THEN the selection is rejected
	assert.Error(t, err)
}

func TestLoadModels_MergesExtraRegistry(t *testing.T) {
	resetFlags(t)
	modelsPath = writeTempYAML(t, `version: "2"
models:
  - id: custom-hold
    type: persistence
    window: 2
    inputs: 4
    column: 4
`)

	models, err := loadModels()
	require.NoError(t, err)

	m, err := models.LoadModel("custom-hold")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Window)
	_, err = models.LoadModel("mixer-level-linear")
	assert.NoError(t, err, "built-in models must survive the merge")
}

func TestDefineDefinition_DuplicateReportsAlreadyExists(t *testing.T) {
	// GIVEN an empty store
	resetFlags(t)
	plantMixers = 2
	d, err := objects.MixingPlant(2)
	require.NoError(t, err)

	// WHEN the same definition is defined twice
	var first, second bytes.Buffer
	require.NoError(t, defineDefinition(context.Background(), &first))
	require.NoError(t, defineDefinition(context.Background(), &second))

	// THEN the first saves and the second reports the duplicate
	assert.Contains(t, first.String(), "saved definition "+d.ID())
	assert.Equal(t, "definition "+d.ID()+" already exists\n", second.String())

	// THEN the catalog lists it once
	var list bytes.Buffer
	require.NoError(t, listDefinitions(context.Background(), &list))
	assert.Equal(t, 1, strings.Count(list.String(), d.ID()))
	assert.Contains(t, list.String(), "chained_mixer,mixer")

	// THEN it can be loaded back by id
	plantMixers = 1
	defnID = d.ID()
	loaded, err := loadDefinition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, d.ID(), loaded.ID())
}

func TestListDefinitions_EmptyStore(t *testing.T) {
	resetFlags(t)

	var buf bytes.Buffer
	require.NoError(t, listDefinitions(context.Background(), &buf))

	assert.Contains(t, buf.String(), "no definitions")
}

func TestPrintAPI_ListsReferences(t *testing.T) {
	resetFlags(t)

	var buf bytes.Buffer
	require.NoError(t, printAPI(context.Background(), &buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "=== Simulation "))
	assert.Contains(t, out, `"Mixer100"`)
	assert.Contains(t, out, `"Inlet1.OLS"`)
	assert.Contains(t, out, `"read_only": true`)
}

func startMixerServer(t *testing.T, reg *prometheus.Registry) *server.Server {
	t.Helper()
	d, err := objects.MixingPlant(1)
	require.NoError(t, err)
	cfg := server.Config{TickInterval: 5 * time.Millisecond}
	if reg != nil {
		cfg.Metrics, err = server.NewMetrics(reg)
		require.NoError(t, err)
	}
	srv, err := server.New(d, defn.Resources{Models: predictor.Builtin(), Seed: 1}, cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func TestServeMux_StatusAndMetrics(t *testing.T) {
	// GIVEN a running server behind the serve mux
	reg := prometheus.NewRegistry()
	srv := startMixerServer(t, reg)
	ts := httptest.NewServer(newServeMux(srv, reg, bridge.Options{}))
	defer ts.Close()
	require.Eventually(t, func() bool { return srv.Tick() > 0 }, 2*time.Second, 5*time.Millisecond)

	// WHEN the status endpoint is queried
	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()

	// THEN it reports the running server
	assert.Equal(t, "running", status["state"])
	assert.Equal(t, srv.DefinitionID(), status["definition"])

	// WHEN metrics are scraped
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	// THEN the server collectors are exported
	assert.Contains(t, string(body), "twinsim_server_step_duration_seconds")
	assert.Contains(t, string(body), "twinsim_server_tick")
}

func TestObserve_SamplesThroughBridge(t *testing.T) {
	// GIVEN a running server reachable over the bridge
	resetFlags(t)
	srv := startMixerServer(t, nil)
	ts := httptest.NewServer(bridge.New(srv, bridge.Options{}))
	defer ts.Close()
	observeURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	observeNames = []string{"Mixer100.Level", "Mixer100.Temperature"}
	observeInterval = time.Millisecond
	observeSamples = 3

	// WHEN observed
	var buf bytes.Buffer
	rec := &Recorder{}
	require.NoError(t, observe(context.Background(), &buf, rec))

	// THEN one row per sample is written and every request is recorded
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "time_us,Mixer100.Level,Mixer100.Temperature", lines[0])
	records := rec.Records()
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.RequestID)
		assert.Equal(t, "ok", r.Status)
		assert.GreaterOrEqual(t, r.ReplyTimeUs, r.SendTimeUs)
	}
}

func TestObserve_UnknownReferenceFails(t *testing.T) {
	resetFlags(t)
	srv := startMixerServer(t, nil)
	ts := httptest.NewServer(bridge.New(srv, bridge.Options{}))
	defer ts.Close()
	observeURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	observeNames = []string{"Nope.Level"}
	observeInterval = time.Millisecond
	observeSamples = 1

	err := observe(context.Background(), io.Discard, &Recorder{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidReference")
}

func TestStartRecipe_UsesServerTickInterval(t *testing.T) {
	// GIVEN a server started with a zero tick flag, which falls back to the default cadence
	resetFlags(t)
	d, err := objects.MixingPlant(1)
	require.NoError(t, err)
	srv, err := server.New(d, defn.Resources{Models: predictor.Builtin(), Seed: 1}, server.Config{TickInterval: 0})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	require.Equal(t, server.DefaultTickInterval, srv.TickInterval())

	// WHEN the recipe is started against it
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, startRecipe(ctx, srv, "Mixer100"))

	// THEN the recipe actually drives the mixer: inlet 1 is commanded open
	assert.Eventually(t, func() bool {
		v, err := srv.GetReferenceValue(context.Background(), "Mixer100.Inlet1.OLS")
		return err == nil && v == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPrintTraceSummary_SortsKeys(t *testing.T) {
	s := &trace.TraceSummary{
		TotalRequests:  6,
		FailedRequests: 2,
		InOrder:        true,
		OpDistribution: map[string]int{"SET": 2, "GET": 3, "STOP": 1},
		ErrorKinds:     map[string]int{"ReadOnlyViolation": 1, "InvalidReference": 1},
	}

	var buf bytes.Buffer
	printTraceSummary(&buf, s)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "  GET      3", lines[2])
	assert.Equal(t, "  SET      2", lines[3])
	assert.Equal(t, "  STOP     1", lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "  error InvalidReference"))
	assert.True(t, strings.HasPrefix(lines[6], "  error ReadOnlyViolation"))
}
