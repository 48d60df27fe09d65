package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/rowanhq/backstop/internal/action"
)

// TraceSnapshot is the serialized form of a scenario run: the scenario name
// plus its full trace, canonicalized for byte-stable golden comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		events[i] = ev.toCanonicalMap()
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	}
}

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) {
	t.Helper()

	result := Run(t, sc)

	snapshot := TraceSnapshot{ScenarioName: sc.Name, Trace: result.Trace}
	raw, err := json.Marshal(snapshot.toCanonicalMap())
	require.NoError(t, err, "marshal trace")
	canonical, err := action.MarshalCanonical(raw)
	require.NoError(t, err, "canonicalize trace")

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, canonical)
}
