package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macsweep/internal/config"
	"macsweep/internal/params"
	"macsweep/internal/results"
	"macsweep/internal/supervisor"
)

const constsFixture = `// modem constants
pub const SAMPLES_PER_LEVEL: usize = 3;
pub const CW_MIN: u32 = 10;
pub const CW_MAX: u32 = 200;
pub const SLOT_TIME_MS: u64 = 5;
`

func sh(script string) []string {
	return []string{"sh", "-c", script}
}

type fakeBuilder struct {
	mu         sync.Mutex
	constsPath string
	calls      int
	envs       [][]string
	seen       []string
	failOn     map[int]bool
}

func (b *fakeBuilder) Build(_ context.Context, env []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.envs = append(b.envs, env)
	if b.constsPath != "" {
		data, _ := os.ReadFile(b.constsPath)
		b.seen = append(b.seen, string(data))
	}
	if b.failOn[b.calls] {
		return fmt.Errorf("%w: exit status 101", ErrBuildFailed)
	}
	return nil
}

type trackingFactory struct {
	mu   sync.Mutex
	sups []*supervisor.Supervisor
}

func (f *trackingFactory) New(opts supervisor.Options) ProcessSupervisor {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := supervisor.New(opts)
	f.sups = append(f.sups, s)
	return s
}

func (f *trackingFactory) assertNothingRunning(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sups {
		assert.Empty(t, s.Running())
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SubjectDir = dir
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.ConstsPath()), 0755))
	require.NoError(t, os.WriteFile(cfg.ConstsPath(), []byte(constsFixture), 0644))

	cfg.TotalTimeout = 10 * time.Second
	cfg.PollInterval = 20 * time.Millisecond
	cfg.GracePeriod = 200 * time.Millisecond
	cfg.SettleDelay = 0
	cfg.Repeats = 1
	cfg.Roles = []config.Role{
		{Name: "rx2", Side: config.SideRx, Args: sh("sleep 0.2"), Delay: 10 * time.Millisecond},
		{Name: "rx1", Side: config.SideRx, Args: sh("sleep 0.2"), Delay: 10 * time.Millisecond},
		{Name: "tx2", Side: config.SideTx, Args: sh("sleep 0.2"), Delay: 10 * time.Millisecond},
		{Name: "tx1", Side: config.SideTx, Args: sh("sleep 0.2")},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func space(t *testing.T, sets ...params.Set) *params.Space {
	t.Helper()
	sp, err := params.NewSpace(sets...)
	require.NoError(t, err)
	return sp
}

func readConsts(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := os.ReadFile(cfg.ConstsPath())
	require.NoError(t, err)
	return string(data)
}

func TestRun_AllRolesComplete(t *testing.T) {
	cfg := testConfig(t)
	// A poll interval longer than every role's runtime lets all four exit before
	// the first completion check that can succeed.
	cfg.PollInterval = 600 * time.Millisecond

	set := params.MustSet("baseline", map[string]int{"CW_MIN": 10, "CW_MAX": 200})
	builder := &fakeBuilder{constsPath: cfg.ConstsPath()}
	factory := &trackingFactory{}
	r := New(cfg, space(t, set), WithBuilder(builder), WithSupervisorFactory(factory.New))

	require.NoError(t, r.Run(context.Background()))

	got := r.Session().Store.Results()
	require.Len(t, got, 1)
	res := got[0]
	assert.Equal(t, "baseline", res.ConfigName)
	assert.Equal(t, 1, res.Repeat)
	assert.Equal(t, r.Session().ID, res.SessionID)
	assert.Equal(t, map[string]int{"CW_MIN": 10, "CW_MAX": 200}, res.Parameters)
	require.Len(t, res.Durations, 4)

	maxSeen := 0.0
	for role, d := range res.Durations {
		assert.Positive(t, d, role)
		assert.LessOrEqual(t, d, cfg.TotalTimeout.Seconds(), role)
		if d > maxSeen {
			maxSeen = d
		}
	}
	assert.Equal(t, maxSeen, res.MaxTime)
	assert.True(t, res.Complete())

	for _, role := range cfg.Roles {
		assert.FileExists(t, cfg.LogPath(role))
	}
	assert.Equal(t, constsFixture, readConsts(t, cfg))
	factory.assertNothingRunning(t)
}

func TestRun_StragglingTransmitterIsTerminated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roles[2].Args = sh("sleep 0.05")
	cfg.Roles[3].Args = sh("sleep 60")

	set := params.MustSet("baseline", map[string]int{"CW_MIN": 10})
	factory := &trackingFactory{}
	r := New(cfg, space(t, set), WithBuilder(&fakeBuilder{}), WithSupervisorFactory(factory.New))

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second, "the loop exits once both receivers are done")

	res := r.Session().Store.Results()[0]
	assert.Equal(t, results.Sentinel, res.Durations["tx1"])
	assert.Positive(t, res.Durations["rx1"])
	assert.Positive(t, res.Durations["rx2"])
	assert.Positive(t, res.Durations["tx2"])
	assert.False(t, res.Complete())
	assert.Equal(t, results.MaxTime(map[string]float64{
		"rx1": res.Durations["rx1"], "rx2": res.Durations["rx2"], "tx2": res.Durations["tx2"],
	}), res.MaxTime)
	factory.assertNothingRunning(t)
}

func TestRun_TimeoutRecordsSentinels(t *testing.T) {
	cfg := testConfig(t)
	cfg.TotalTimeout = 300 * time.Millisecond
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("sleep 60")
	}

	r := New(cfg, space(t, params.MustSet("baseline", map[string]int{"CW_MIN": 10})), WithBuilder(&fakeBuilder{}))
	require.NoError(t, r.Run(context.Background()))

	res := r.Session().Store.Results()[0]
	for role, d := range res.Durations {
		assert.Equal(t, results.Sentinel, d, role)
	}
	assert.Equal(t, results.Sentinel, res.MaxTime)
}

func TestRun_PatchesEachSetFromOriginalAndRestores(t *testing.T) {
	cfg := testConfig(t)
	cfg.Repeats = 2
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("exit 0")
	}

	first := params.MustSet("larger mincw", map[string]int{"CW_MIN": 50})
	second := params.MustSet("missing key", map[string]int{"CW_MAX": 400, "NOT_DECLARED": 7})
	builder := &fakeBuilder{constsPath: cfg.ConstsPath()}
	r := New(cfg, space(t, first, second), WithBuilder(builder))

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, builder.seen, 4)
	assert.Contains(t, builder.seen[0], "pub const CW_MIN: u32 = 50;")
	assert.Contains(t, builder.seen[2], "pub const CW_MIN: u32 = 10;", "each set patches the original, not the previous set")
	assert.Contains(t, builder.seen[2], "pub const CW_MAX: u32 = 400;")
	assert.NotContains(t, builder.seen[2], "NOT_DECLARED")
	assert.Equal(t, constsFixture, readConsts(t, cfg))
}

func TestRun_BuildFailureSkipsRepeat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Repeats = 2
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("exit 0")
	}

	a := params.MustSet("a", map[string]int{"CW_MIN": 1})
	b := params.MustSet("b", map[string]int{"CW_MIN": 2})
	builder := &fakeBuilder{failOn: map[int]bool{2: true}}
	r := New(cfg, space(t, a, b), WithBuilder(builder))

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 4, builder.calls)

	got := r.Session().Store.Results()
	require.Len(t, got, 3)
	seen := make(map[string]bool)
	for _, res := range got {
		key := fmt.Sprintf("%s/%d", res.ConfigName, res.Repeat)
		assert.False(t, seen[key], "duplicate result %s", key)
		seen[key] = true
		assert.GreaterOrEqual(t, res.Repeat, 1)
		assert.LessOrEqual(t, res.Repeat, cfg.Repeats)
	}
	assert.False(t, seen["a/2"], "the failed build leaves no result")
	assert.Equal(t, constsFixture, readConsts(t, cfg))
}

func TestRun_DefaultRepeatsYieldOneResultPerRepeat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Repeats = config.DefaultRepeats
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("exit 0")
	}

	builder := &fakeBuilder{}
	r := New(cfg, space(t, params.MustSet("baseline", map[string]int{"CW_MIN": 10})), WithBuilder(builder))
	require.NoError(t, r.Run(context.Background()))

	got := r.Session().Store.Results()
	require.Len(t, got, 4)
	assert.Equal(t, 4, builder.calls)
	var repeats []int
	for _, res := range got {
		assert.Equal(t, "baseline", res.ConfigName)
		repeats = append(repeats, res.Repeat)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, repeats)
}

func TestRun_ReceiversStartBeforeTransmitters(t *testing.T) {
	cfg := testConfig(t)
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("sleep 0.3")
		cfg.Roles[i].Delay = 50 * time.Millisecond
	}
	cfg.Roles[len(cfg.Roles)-1].Delay = 0
	require.NoError(t, cfg.Validate())

	factory := &trackingFactory{}
	r := New(cfg, space(t, params.MustSet("baseline", map[string]int{"CW_MIN": 10})),
		WithBuilder(&fakeBuilder{}), WithSupervisorFactory(factory.New))
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, factory.sups, 1)
	sup := factory.sups[0]
	assert.Equal(t, []string{"rx2", "rx1", "tx2", "tx1"}, sup.Names())

	started := make(map[string]time.Time, len(cfg.Roles))
	for _, role := range cfg.Roles {
		h, err := sup.Handle(role.Name)
		require.NoError(t, err)
		started[role.Name] = h.StartedAt()
	}
	for _, rx := range cfg.RoleNames(config.SideRx) {
		for _, tx := range cfg.RoleNames(config.SideTx) {
			assert.True(t, started[rx].Before(started[tx]), "%s must start before %s", rx, tx)
		}
	}
	for i := 1; i < len(cfg.Roles); i++ {
		prev, cur := cfg.Roles[i-1], cfg.Roles[i]
		assert.GreaterOrEqual(t, started[cur.Name].Sub(started[prev.Name]), prev.Delay,
			"%s starts at least %s after %s", cur.Name, prev.Delay, prev.Name)
	}
}

func TestRun_SpawnFailureRestoresAndStopsStartedRoles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roles[0].Args = sh("sleep 60")
	cfg.Roles[1].Args = sh("sleep 60")
	cfg.Roles[2].Args = []string{filepath.Join(cfg.SubjectDir, "no-such-modem")}

	factory := &trackingFactory{}
	r := New(cfg, space(t, params.MustSet("baseline", map[string]int{"CW_MIN": 99})),
		WithBuilder(&fakeBuilder{}), WithSupervisorFactory(factory.New))

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx2")
	assert.Equal(t, constsFixture, readConsts(t, cfg))
	assert.Zero(t, r.Session().Store.Len())
	factory.assertNothingRunning(t)
}

func TestRun_CancellationRestoresAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.TotalTimeout = time.Minute
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("sleep 60")
	}

	factory := &trackingFactory{}
	r := New(cfg, space(t, params.MustSet("baseline", map[string]int{"CW_MIN": 99})),
		WithBuilder(&fakeBuilder{}), WithSupervisorFactory(factory.New))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, constsFixture, readConsts(t, cfg))
	factory.assertNothingRunning(t)
}

func TestRun_EnvInjectionLeavesSourceAlone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Injection = config.InjectionEnv
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh(`echo "cw_min=$MACSWEEP_CW_MIN slot=$MACSWEEP_SLOT_TIME_MS"`)
	}
	require.NoError(t, cfg.Validate())

	set := params.MustSet("aggressive_backoff", map[string]int{"CW_MIN": 2, "SLOT_TIME_MS": 2})
	builder := &fakeBuilder{constsPath: cfg.ConstsPath()}
	r := New(cfg, space(t, set), WithBuilder(builder))

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, builder.envs, 1)
	assert.Equal(t, []string{"MACSWEEP_CW_MIN=2", "MACSWEEP_SLOT_TIME_MS=2"}, builder.envs[0])
	assert.Equal(t, constsFixture, builder.seen[0], "the constants file is never rewritten")

	out, err := os.ReadFile(cfg.LogPath(cfg.Roles[0]))
	require.NoError(t, err)
	assert.Contains(t, string(out), "cw_min=2 slot=2")
}

func TestRun_StaleLogsRemoved(t *testing.T) {
	cfg := testConfig(t)
	for i := range cfg.Roles {
		cfg.Roles[i].Args = sh("exit 0")
	}
	stale := cfg.LogPath(cfg.Roles[0])
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old run output\n"), 0644))

	r := New(cfg, space(t, params.MustSet("baseline", map[string]int{"CW_MIN": 10})), WithBuilder(&fakeBuilder{}))
	require.NoError(t, r.Run(context.Background()))

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "old run output"))
}

func TestEnv(t *testing.T) {
	set := params.MustSet("s", map[string]int{"CW_MAX": 32, "CW_MIN": 2})
	assert.Equal(t, []string{"MACSWEEP_CW_MAX=32", "MACSWEEP_CW_MIN=2"}, Env(set))
}

func TestNew_SessionIdentity(t *testing.T) {
	cfg := testConfig(t)
	sp := space(t, params.MustSet("a", map[string]int{"CW_MIN": 1}))
	r1 := New(cfg, sp)
	r2 := New(cfg, sp)

	assert.NotEmpty(t, r1.Session().ID)
	assert.NotEqual(t, r1.Session().ID, r2.Session().ID)
	assert.Equal(t, r1.Session().ID, r1.Session().Store.SessionID())
	assert.Len(t, r1.Session().Sets, 1)
}
